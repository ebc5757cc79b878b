package access

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrUnknownEntityType is returned for entity types outside the supported set
	ErrUnknownEntityType = errors.New("unknown entity type")
	// ErrNotFound is returned when an entity is absent from the registry
	ErrNotFound = errors.New("entity not found")
	// ErrUnauthorized is returned when an access decision resolved to false
	ErrUnauthorized = errors.New("access denied")
)

// EntityType is the closed set of content types gated by availability.
// The zero value is not a valid type.
type EntityType int

const (
	EntityModelVersion EntityType = iota + 1
	EntityArticle
	EntityPost
	EntityModel
	EntityCollection
	EntityBounty
)

// EntityTypes lists every supported entity type
var EntityTypes = []EntityType{
	EntityModelVersion,
	EntityArticle,
	EntityPost,
	EntityModel,
	EntityCollection,
	EntityBounty,
}

func (t EntityType) String() string {
	switch t {
	case EntityModelVersion:
		return "ModelVersion"
	case EntityArticle:
		return "Article"
	case EntityPost:
		return "Post"
	case EntityModel:
		return "Model"
	case EntityCollection:
		return "Collection"
	case EntityBounty:
		return "Bounty"
	default:
		return "EntityType(" + strconv.Itoa(int(t)) + ")"
	}
}

// Valid reports whether t is a supported entity type
func (t EntityType) Valid() bool {
	return t >= EntityModelVersion && t <= EntityBounty
}

// ParseEntityType parses the wire name of an entity type
func ParseEntityType(name string) (EntityType, error) {
	for _, t := range EntityTypes {
		if strings.EqualFold(name, t.String()) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownEntityType, name)
}

// MarshalText implements encoding.TextMarshaler
func (t EntityType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, ErrUnknownEntityType
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (t *EntityType) UnmarshalText(text []byte) error {
	parsed, err := ParseEntityType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Availability is an entity's visibility tier
type Availability string

const (
	Public       Availability = "Public"
	Unsearchable Availability = "Unsearchable"
	Private      Availability = "Private"
)

// ParseAvailability maps a stored value to an Availability. Unrecognized
// values are Private.
func ParseAvailability(raw string) Availability {
	switch Availability(raw) {
	case Public:
		return Public
	case Unsearchable:
		return Unsearchable
	default:
		return Private
	}
}

// Open reports whether every principal may see entities with this availability
func (a Availability) Open() bool {
	return a == Public || a == Unsearchable
}

// AccessorType is the subject side of a grant
type AccessorType string

const (
	AccessorUser     AccessorType = "User"
	AccessorClub     AccessorType = "Club"
	AccessorClubTier AccessorType = "ClubTier"
)

// EntityAvailability is a registry row for one entity
type EntityAvailability struct {
	EntityID     int64
	Availability Availability
	OwnerUserID  int64
}

// Request asks for decisions on a batch of entities of one type.
// A zero UserID is an unauthenticated caller.
type Request struct {
	EntityType  EntityType
	EntityIDs   []int64
	UserID      int64
	IsModerator bool
}

// Decision is the access answer for one entity
type Decision struct {
	EntityID     int64        `json:"entity_id"`
	HasAccess    bool         `json:"has_access"`
	Availability Availability `json:"availability"`
}

// ClubGate is a club or tier that gates an entity. ClubTierID is zero for
// club-level grants.
type ClubGate struct {
	ClubID     int64 `json:"club_id"`
	ClubTierID int64 `json:"club_tier_id,omitempty"`
}

// ClubRequirement lists the gates of one entity
type ClubRequirement struct {
	EntityID int64      `json:"entity_id"`
	Gates    []ClubGate `json:"gates"`
}

// EntityKey identifies an entity across types, e.g. "Model:12"
type EntityKey string

// NewEntityKey builds the key of an entity
func NewEntityKey(t EntityType, id int64) EntityKey {
	return EntityKey(t.String() + ":" + strconv.FormatInt(id, 10))
}

// Parse splits the key into its type and id
func (k EntityKey) Parse() (EntityType, int64, error) {
	name, rawID, ok := strings.Cut(string(k), ":")
	if !ok {
		return 0, 0, fmt.Errorf("malformed entity key %q", string(k))
	}
	t, err := ParseEntityType(name)
	if err != nil {
		return 0, 0, err
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed entity key %q: %w", string(k), err)
	}
	return t, id, nil
}

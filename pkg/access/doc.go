// Package access decides whether a principal may see content entities.
//
// # Entities
//
// Six entity types are gated (ModelVersion, Article, Post, Model, Collection,
// Bounty). Each carries an availability of Public, Unsearchable or Private and
// an owning user. A ModelVersion is owned through its parent Model. Stored
// availability values outside the known set read as Private.
//
// # Decisions
//
// Service.HasAccess answers a batch for one entity type. The first rule that
// matches settles the whole batch:
//
//  1. moderators see everything
//  2. a batch with no Private entity is visible to everyone
//  3. a user owning every entity sees all of them
//  4. anonymous callers see only non-Private entities
//  5. otherwise each Private entity the user does not own goes to the Resolver
//
// Ids missing from the registry are left out of the answer. Callers treat an
// omitted id as inaccessible, and treat any error as no access.
//
//	decisions, err := service.HasAccess(ctx, access.Request{
//		EntityType:  access.EntityModel,
//		EntityIDs:   []int64{1, 2, 3},
//		UserID:      authCtx.UserID,
//		IsModerator: authCtx.IsModerator,
//	})
//
// # Grant graph
//
// Grants in entity_access point a User, Club or ClubTier at an entity. A club
// grant is satisfied by owning, administering or holding an active membership
// in the club. A tier grant is satisfied by an active membership in that tier,
// or by owning or administering the tier's club. A membership is active when
// it has no expiry or expires in the future.
//
// # Private cache
//
// PrivateCache keeps each user's full closure of reachable entities in Redis
// for four hours, keyed "Type:id". It serves cheap "can see anything private"
// checks. The entitlement side calls Invalidate or InvalidateMany after
// changing grants or memberships.
package access

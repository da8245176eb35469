// Package subscription provides SubscriptionStore implementations.
//
// The subscription data belongs to the host application; these stores only read
// it. Write helpers (Subscribe, Unsubscribe) exist for seeding and tests.
package subscription

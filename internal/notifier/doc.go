// Package notifier publishes notifications to the mini-program subscribe-message channel.
//
// A publish runs three steps:
//
//  1. Recipient resolution. An explicit recipient slice (even an empty one) is used
//     as-is. A nil slice means "everyone subscribed": the SubscriptionStore is asked
//     for all subscriptions to (tenant, notification name). The channel has no
//     broadcast primitive, so this is the only place fan-out audiences are built.
//  2. Template mapping. The notification's generic data is mapped onto the template
//     fields (TemplateId, RedirectPage, WeAppState, WeAppLanguage) with option
//     defaults, plus the prefixed standard data fields. The data map is never mutated.
//  3. Dispatch. Each recipient gets its own message and its own Send call on a
//     bounded worker pool behind a token-bucket limiter. One recipient's failure
//     never affects another; the publish finishes after every attempt has resolved.
//
// # Errors
//
// Only resolution failures (ErrResolution) abort a publish. Per-recipient problems
// (ErrUnresolvedTemplate, ErrChannelKeyUnresolved, ErrSendFailed) are collected in
// the returned Report.
//
// # Cancellation
//
// Canceling the publish context stops new sends. Sends already issued run to
// completion under their own SendTimeout since the channel cannot retract them.
package notifier

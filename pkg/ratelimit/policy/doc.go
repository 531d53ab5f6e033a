// Package policy resolves effective rate limits per subject and endpoint.
//
// Resolution follows a fixed precedence: subject override, endpoint rule,
// first enabled tier policy, first matching dynamic rule, then the
// engine default. Tiers carry canonical per-minute and daily limits; the
// unlimited tier resolves with no ceiling at all.
package policy

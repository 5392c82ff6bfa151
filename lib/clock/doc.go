// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable wall clock.
//
// Token expiry, last-seen stamps, and daemon uptime all read the
// current time through a Clock, so tests can step time across an
// expiry instant exactly instead of sleeping:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	store, _ := pairing.Open(path, c, logger)
//	payload, _ := store.Issue(nil, 60*time.Second)
//	c.Advance(60 * time.Second) // payload is now expired
package clock

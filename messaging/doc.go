// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging is the request substrate of the web messaging
// client: every HTTP exchange with the service goes through it.
//
// [Client] is unauthenticated. It owns the HTTP transport, the shared
// cookie store, and the default browser headers, and [Client.Fetch]
// performs single exchanges, storing every cookie the server sets and
// mirroring main-site cookies onto the messenger site.
//
// [Session] is produced by a successful login (see package auth). It
// carries the account id, the CSRF token pair (fb_dtsg and its derived
// jazoest), a rolling request counter, task and request id counters
// for realtime publishing, and the realtime sync cursor. [Session.Call]
// is the authenticated request path:
//
//   - default parameters (__user, __req, __rev, __a, fb_dtsg, jazoest)
//     are merged into every request, taking precedence over caller
//     values unless the default is empty;
//   - 5xx responses are retried up to five times, each after a random
//     delay below five seconds;
//   - the "for (;;);" guard is stripped and bodies holding several
//     JSON objects are returned as one array;
//   - cookie and token rotations the server pushes through
//     jsmods.require are applied before the body is returned;
//   - {"redirect": url} on a GET is followed, to a bounded depth.
//
// Every error is an [*Error] whose [Kind] is one of auth,
// transient_server, protocol_parse, not_logged_in, or precondition.
// errors.Is matches the kind sentinels ([ErrAuth], [ErrNotLoggedIn],
// and so on) and errors.As extracts the status code and payload.
package messaging

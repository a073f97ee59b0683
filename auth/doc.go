// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package auth establishes an authenticated messaging.Session.
//
// A Flow logs in either with credentials or by restoring an exported
// cookie set (AppState). The credential path mirrors what a browser
// does: it loads the mobile login page, copies the cookies the page
// would set from script, encrypts the password with the key the page
// publishes, and submits the form. A login that lands on a security
// checkpoint returns a *Checkpoint which accepts a login approval code.
// Both paths finish the same way: the landing page is loaded, the
// account id is read from the c_user cookie, and the CSRF token and
// client revision are scraped to build the session.
package auth

// Package webapp is the JSON API: registration and login with lockout
// handling, book and reading-log management, the dashboard, and admin user
// management. Authentication accepts either the browser session cookie or a
// Bearer JWT; a user flagged for a forced password change can only log out,
// change the password, or read their profile until the change completes.
package webapp

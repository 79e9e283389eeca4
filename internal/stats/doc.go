// Package stats computes reading statistics: the daily reading streak and the
// dashboard summary of currently-reading and recently-finished books. Streak
// arithmetic is a pure function over distinct log dates so it can be tested
// without a database.
package stats

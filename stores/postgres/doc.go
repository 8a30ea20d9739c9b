// Package postgres provides pgx-backed implementations of the engine's
// persistent collaborators: the user store, the session store, a policy
// settings store, and an audit sink. All of them share one
// [pgxpool.Pool]; Schema holds the expected DDL.
package postgres

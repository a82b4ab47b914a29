// Package shift moves or extends a task together with its resource claims.
package shift

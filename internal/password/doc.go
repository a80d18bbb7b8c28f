// Package password implements the password policy: bcrypt hashing with a
// fixed default cost of 12, constant-time verification, strength scoring and
// temporary password generation.
//
// Plaintext passwords are never logged or stored by this package.
package password

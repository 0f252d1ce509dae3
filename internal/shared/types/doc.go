// Package types defines the machine-level vocabulary shared across the
// kernel: process and thread identifiers, user virtual addresses and page
// geometry, and the register frame handed to the mode switch.
package types

// Package conv converts between integer widths with overflow checks. It is
// used where sizes and offsets cross the boundary between Go ints and the
// fixed-width fields of the file format.
package conv

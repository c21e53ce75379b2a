// Package field provides the typed, nullable values that make up a row and
// the ordered Set that groups them.
//
// Values are opaque containers for the persistence layer: it only needs to
// clone, compare, hash and assign them, and drivers only need to move them
// in and out through Interface and SetInterface.
//
//	id := field.NewInteger("id")
//	name := field.NewString("name", 64, field.Nullable())
//	row, err := field.NewSet(id, name)
//
// Sets keep insertion order, reject duplicate names with ErrDuplicateField
// and compare lexicographically only against sets of equal cardinality
// (ErrSizeMismatch otherwise).
package field

// Package persistence maps rows of a transactional store to cached
// objects.
//
// A Class describes the shape of an entity: a PrimaryKey and the member
// fields. Objects are instances of a class and are owned by a Storage,
// which caches them by key and talks to the store through accessors:
//
//	loader := persistence.NewPositionalLoader(readStmt, customer, key,
//		persistence.WithRefreshPolicy(func(o *persistence.Object) bool { return false }))
//
//	err := dbms.WithGuard(ctx, conn, func(gc *dbms.GuardConnection) error {
//		obj, err := storage.Load(ctx, gc, loader)
//		if err != nil {
//			return err
//		}
//		name, _ := obj.Text("name")
//		fmt.Println(name)
//		return nil
//	})
//
// A miss reads the object (a fault), a hit serves it from the cache and,
// in read_write mode, lets the loader decide whether to read it again.
// Writes go straight to the store and update the cached copy when there is
// one. Deletes reach the store first and only then drop the cached entry.
//
// Errors coming from the store are *DatabaseError values. They match
// ErrDatabaseOperationFailed, and ErrNotFound when the store answered that
// no record exists:
//
//	if errors.Is(err, persistence.ErrNotFound) {
//		// no such customer
//	}
package persistence

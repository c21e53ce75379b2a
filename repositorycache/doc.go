// Package repositorycache provides typed repositories over a persistence
// Storage.
//
// # Overview
//
// A Mapping tells the repository how a record type converts to and from
// the objects of a persistence class and which prepared statements read,
// write and delete it. The repository then exposes Get, Save and Delete on
// the record type while the Storage keeps the identity cache.
//
// # Basic Usage
//
//	customers, err := repositorycache.New(storage, repositorycache.Mapping[Customer]{
//		Class:  customerClass,
//		Loader: readStmt,
//		Saver:  writeStmt,
//		Eraser: deleteStmt,
//		KeyOf: func(c Customer, key *persistence.PrimaryKey) error {
//			return key.SetInteger("id", c.ID)
//		},
//		FromObject: func(obj *persistence.Object) (Customer, error) {
//			id, _ := obj.Integer("id")
//			name, err := obj.Text("name")
//			return Customer{ID: id, Name: name}, err
//		},
//		ToObject: func(c Customer, obj *persistence.Object) error {
//			return obj.SetText("name", c.Name)
//		},
//	})
//
//	err = dbms.WithGuard(ctx, conn, func(gc *dbms.GuardConnection) error {
//		c, err := customers.Get(ctx, gc, Customer{ID: 6})
//		...
//	})
//
// # Caching Behavior
//
// Get follows the storage protocol: a miss reads the row and caches it, a
// hit is served from memory unless Mapping.Refresh asks for a new read.
// Save writes through and updates the cached copy so that a later Get
// sees the written values. Delete reaches the store first and then drops
// the cached entry.
//
// # Error Handling
//
// Errors from the store keep their persistence types, so errors.Is with
// persistence.ErrNotFound works on the result of Get and Delete.
package repositorycache

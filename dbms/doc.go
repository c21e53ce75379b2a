// Package dbms defines the contract between the persistence layer and the
// backing store, plus the guard protocol that serializes access to it.
//
// A Database owns named Connections and prepared Statements created through
// a Driver. Work on a connection happens inside a GuardConnection, and every
// statement execution inside a GuardStatement linked to it:
//
//	err := dbms.WithGuard(ctx, conn, func(gc *dbms.GuardConnection) error {
//		gc.SetMaxCommitPending(64)
//		gs, err := gc.Statement(writer)
//		if err != nil {
//			return err
//		}
//		defer gs.Close()
//		// bind inputs, then
//		rc := gs.Execute(ctx)
//		...
//	})
//
// GuardConnection holds the connection exclusively, commits whatever is
// still pending when it is closed and then ends the session transaction, so
// a guard that only read leaves nothing open behind it. GuardStatement locks the statement for
// its lifetime and, once the pending counter reaches MaxCommitPending,
// commits on release.
//
// Drivers answer with a ResultCode whose Outcome separates a valid negative
// answer (NotFound) from an operational error (Failed).
package dbms

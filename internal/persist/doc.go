// Package persist is a thin convenience layer over database/sql.
//
// It gives callers a small transaction and query API with automatic rollback
// and caller-defined row-to-entity mapping. Statement text is passed to the
// driver verbatim; the package only binds positional parameters and manages
// transaction boundaries.
//
// # Components
//
//   - Statement: SQL text plus 1-based positional parameters
//   - Transaction: owns one connection from Begin to Commit/Rollback and
//     rolls back automatically when the driver fails
//   - Query: runs a SELECT, buffers rows as Row maps keyed by upper-cased
//     column label, and materialises them through a Decoder
//   - ManagerFactory: binds one DataSource and creates independent managers
//
// # Usage
//
//	factory, err := persist.NewManagerFactory(db)
//	if err != nil {
//	    return err
//	}
//
//	tx := factory.CreateTransactionManager()
//	if err := tx.Begin(ctx); err != nil {
//	    return err
//	}
//	defer tx.Rollback() //nolint:errcheck // No-op after Commit
//
//	insert := persist.MustStatement("INSERT INTO account (name) VALUES (?)")
//	if _, err := insert.SetParameter(1, "CASH"); err != nil {
//	    return err
//	}
//	id, err := tx.Persist(ctx, insert)
//	if err != nil {
//	    return err // already rolled back
//	}
//	if err := tx.Commit(); err != nil {
//	    return err
//	}
//
//	sel := persist.MustStatement("SELECT id, name FROM account WHERE id = ?")
//	sel.SetParameter(1, id) //nolint:errcheck // Index and value are valid
//	q, err := persist.CreateEntityQuery(factory.CreateQueryManager(), sel, accountDecoder)
//	if err != nil {
//	    return err
//	}
//	if _, err := q.Execute(ctx); err != nil {
//	    return err
//	}
//	account, err := q.SingleResult()
//
// # Error Handling
//
// Every returned error wraps one sentinel from errors.go. Driver failures wrap
// ErrPersistence and keep the driver error in the chain. Rollback failures
// are logged and never replace the error that caused the rollback.
//
// # Concurrency
//
// Transaction and Query instances are single-goroutine objects. Separate
// instances may share a DataSource that is itself safe for concurrent use,
// such as *sql.DB.
package persist

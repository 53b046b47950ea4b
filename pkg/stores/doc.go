// Package stores keeps the run history of the agent in SQLite.
//
// Each finished run is saved as a summary row, one row per reported entry
// and one per driver failure, together with the full JSON report. Schema
// migrations are embedded and applied with golang-migrate.
//
//	store, err := stores.NewSQLiteStore(stores.Config{Path: "/var/lib/froyo-agent/history.db"})
//	if err != nil {
//		return err
//	}
//	if err := store.Init(ctx); err != nil {
//		return err
//	}
//	defer store.Close()
//	if err := store.Migrate(ctx); err != nil {
//		return err
//	}
//	err = store.SaveReport(ctx, report)
package stores

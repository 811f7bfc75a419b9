// Package admin provides the persistd admin HTTP API and event stream.
//
// Routes (chi):
//
//	GET  /api/v1/health       database and MQTT reachability (no auth)
//	GET  /api/v1/stats        pool, per-operation and runtime statistics
//	GET  /api/v1/migrations   applied and pending schema migrations
//	GET  /api/v1/audit        committed and rolled back transactions
//	POST /api/v1/exec         run statements in one transaction
//	POST /api/v1/query        run a read statement, rows as JSON objects
//	POST /api/v1/ws-ticket    single-use ticket for the event stream
//	GET  /api/v1/ws?ticket=   WebSocket stream of persist events
//
// Protected routes require an HS256 bearer token signed with
// admin.jwt.secret; persistd -issue-token prints one.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	srv, err := admin.New(admin.Deps{..., Factory: factory})
//	factory.SetObserver(persist.Observers{..., srv.Observer()})
//	srv.Start(ctx)
//	defer srv.Close()
//
// WebSocket clients subscribe to channels named "persist.{kind}" or to
// "persist.*":
//
//	{"type":"subscribe","id":"1","payload":{"channels":["persist.commit"]}}
package admin

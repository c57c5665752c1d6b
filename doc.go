// Package eddy is a client for EddyDB.
//
// Connect dials a server over the websocket engine by default, which keeps
// a persistent connection, multiplexes concurrent calls over it, carries
// live-query notification streams and reconnects automatically after a
// fixed delay when the transport drops:
//
//	db, err := eddy.Connect(ctx, "wss://db.example.com")
//	if err != nil {
//		...
//	}
//	defer db.Close()
//
//	if err := db.Use(ctx, "app", "prod"); err != nil {
//		...
//	}
//
//	rows, err := db.Query(ctx, eql.New("SELECT * FROM user WHERE age > $min").Bind("min", 18))
//
// Results stay json.RawMessage; decoding them is the caller's business.
//
// Live queries return a subscription id to attach listeners to:
//
//	id, _ := db.Live(ctx, "user")
//	ch, _ := db.LiveNotifications(id)
//	for note := range ch {
//		...
//	}
//
// The one-shot HTTP engine (eddy.WithHTTP) serves request/response only
// use; live queries need the websocket engine.
package eddy

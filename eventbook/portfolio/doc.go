// Package portfolio keeps the books of a process by name.
//
// A book is described by an eventbook.BookSpec and goes through two steps: Register records the
// spec, Start builds the live book through the Resolver and opens the connectors the spec refers
// to. With a contract store every registration and connector binding is persisted, so a new
// process can Restore the registrations and start them again:
//
//	store, _ := contractstore.NewYAMLStore(nil, "/etc/books/contracts.yaml")
//	opener, _ := connector.NewOpener()
//	p, _ := portfolio.New(
//		portfolio.WithContractStore(store),
//		portfolio.WithConnectorOpener(opener.Open))
//
//	_ = p.Register(ctx, eventbook.BookSpec{Name: "orders", RecoverOnStart: true})
//	_ = p.SetBookConnectors(ctx, "orders",
//		eventbook.ConnectorContract{Kind: connector.KindFile, Location: "/var/books", Resource: "state_orders.json"},
//		eventbook.ConnectorContract{Kind: connector.KindFile, Location: "/var/books", Resource: "events_log_orders.json"})
//	_ = p.Start(ctx)
//
//	_, _ = p.IncrementEvent(ctx, "orders", payload)
//
// Alternative book implementations are added by registering a Constructor for a new kind on a
// Resolver and passing it with WithResolver.
package portfolio

/*
Package events provides the in-memory broker that carries progress events
from the orchestrator to whoever is watching an operation, normally the CLI.

Publishing never blocks on a slow subscriber: each subscriber has a buffer of
50 events and events that do not fit are dropped for that subscriber. Stop
delivers everything published before it was called and then closes the
subscriber channels, so a printer can simply range over its subscription:

	broker := events.NewBroker()
	broker.Start()
	sub := broker.Subscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range sub {
			fmt.Printf("%s %s\n", ev.Type, ev.Message)
		}
	}()

	// ... run the operation, publishing events ...

	broker.Stop()
	<-done

Every event carries the attempt ID of the operation that produced it and a
small metadata map (environment, step, check, stage).
*/
package events

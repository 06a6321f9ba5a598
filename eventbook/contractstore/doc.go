// Package contractstore provides eventbook.ContractStore implementations: MemoryStore for a single
// process and YAMLStore, a YAML file on an afero.Fs that survives restarts.
//
// A YAMLStore file looks like this:
//
//	connectors:
//	  state_orders:
//	    name: state_orders
//	    kind: file
//	    location: /var/lib/books
//	    resource: orders_state.json
//	levels:
//	  portfolio:
//	    - name: orders
//	      kind: event_book
//	      level: portfolio
//	      cadence:
//	        count_threshold: 100
//	        time_threshold_seconds: 0
//	        log_threshold: 10
//	      state_connector: state_orders
package contractstore

// Package mqtt provides the broker connection for the Casambi bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// MQTT is the bridge's local-facing bus: home-automation controllers
// consume unit state from retained topics and issue commands without
// knowing anything about the cloud protocol behind them.
//
//	Controllers ↔ MQTT Broker ↔ casambi-bridge ↔ Casambi cloud
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllUnitCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        // route to the owning network session
//	        return nil
//	    })
package mqtt

package mqtt

import (
	"fmt"
	"strconv"
	"strings"
)

// TopicPrefix is the base of every bridge topic. The scheme is flat:
// casambi/{category}/{network}/{unit}.
const TopicPrefix = "casambi"

// Topics provides builders for the bridge's MQTT topics. Using these
// helpers keeps topic naming consistent across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.UnitState("net-1", 7)
//	// Returns: "casambi/state/net-1/7"
type Topics struct{}

// UnitState returns the retained state topic for one unit.
//
// Example: casambi/state/net-1/7
func (Topics) UnitState(networkID string, unitID int) string {
	return fmt.Sprintf("%s/state/%s/%d", TopicPrefix, networkID, unitID)
}

// UnitCommand returns the command topic for one unit.
//
// Example: casambi/command/net-1/7
func (Topics) UnitCommand(networkID string, unitID int) string {
	return fmt.Sprintf("%s/command/%s/%d", TopicPrefix, networkID, unitID)
}

// UnitAck returns the command acknowledgement topic for one unit.
//
// Example: casambi/ack/net-1/7
func (Topics) UnitAck(networkID string, unitID int) string {
	return fmt.Sprintf("%s/ack/%s/%d", TopicPrefix, networkID, unitID)
}

// AllUnitCommands returns the wildcard subscription covering every
// unit's command topic.
//
// Example: casambi/command/+/+
func (Topics) AllUnitCommands() string {
	return fmt.Sprintf("%s/command/+/+", TopicPrefix)
}

// BridgeHealth returns the retained health topic for a bridge instance.
//
// Example: casambi/bridge/casambridge-01/health
func (Topics) BridgeHealth(clientID string) string {
	return fmt.Sprintf("%s/bridge/%s/health", TopicPrefix, clientID)
}

// BridgeStatus returns the retained online/offline status topic for a
// bridge instance. This is also the LWT target.
//
// Example: casambi/bridge/casambridge-01/status
func (Topics) BridgeStatus(clientID string) string {
	return fmt.Sprintf("%s/bridge/%s/status", TopicPrefix, clientID)
}

// ParseUnitCommandTopic extracts the network and unit from a command
// topic delivered through the AllUnitCommands wildcard.
func ParseUnitCommandTopic(topic string) (networkID string, unitID int, err error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != TopicPrefix || parts[1] != "command" {
		return "", 0, fmt.Errorf("%w: %q is not a unit command topic", ErrInvalidTopic, topic)
	}
	if parts[2] == "" {
		return "", 0, fmt.Errorf("%w: %q has an empty network segment", ErrInvalidTopic, topic)
	}
	unitID, err = strconv.Atoi(parts[3])
	if err != nil {
		return "", 0, fmt.Errorf("%w: %q has a non-numeric unit segment", ErrInvalidTopic, topic)
	}
	return parts[2], unitID, nil
}

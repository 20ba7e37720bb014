//go:build !no_mqtt

package mqtt

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/KongGithubDev/LightLink/internal/core"
	"github.com/KongGithubDev/LightLink/internal/store"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	TopicPrefix string
	ClientID    string
}

// publisher is the part of the paho client the bridge publishes through.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
}

// Bridge connects controllers that speak MQTT to the hub. It forwards
// commands and the catalog to the controller, takes status reports and
// commands from it, and mirrors the merged status for other consumers.
//
// Topics, relative to the prefix:
//
//	status               merged status (retained)
//	device/cmd           commands for the controller
//	device/lights        normalized catalog (retained)
//	device/status   in   controller status report
//	device/state    in   controller availability, "online" or "offline"
//	cmd             in   command from any client; acked on cmd/ack
//	light/<name>/state   "ON"/"OFF" per light (retained)
//	light/<name>/set in  "ON", "OFF" or "TOGGLE"
//	bridge/state         bridge availability (retained, last will)
type Bridge struct {
	client     pahomqtt.Client
	pub        publisher
	dispatcher *core.Dispatcher
	hub        *core.Hub
	prefix     string
	logger     *slog.Logger
	unsub      func()

	mu sync.Mutex
	// detach is set while the controller reports itself online.
	detach func()
	// discovered maps topic names of lights with a discovery entry to
	// their catalog names.
	discovered map[string]string
}

func newBridge(d *core.Dispatcher, prefix string, logger *slog.Logger) *Bridge {
	return &Bridge{
		dispatcher: d,
		hub:        d.Hub(),
		prefix:     prefix,
		logger:     logger.With("component", "mqtt"),
		discovered: make(map[string]string),
	}
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(d *core.Dispatcher, cfg Config, logger *slog.Logger) (*Bridge, error) {
	b := newBridge(d, cfg.TopicPrefix, logger)

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "lightlink"
	}
	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(b.topic("bridge/state"), "offline", 1, true).
		SetOnConnectHandler(func(c pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.publishBridgeState("online")
			b.subscribe(c)
			b.publishSnapshot()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
			// The controller's availability is unknown until it reports again.
			b.setControllerOnline(false)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	b.client = client
	b.pub = client

	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return b, nil
}

// Start subscribes to hub events and begins MQTT publishing.
func (b *Bridge) Start() {
	b.unsub = b.hub.Events().Subscribe(b)
	b.logger.Info("MQTT bridge started", "prefix", b.prefix)
}

// Stop publishes offline state, unsubscribes, and disconnects.
func (b *Bridge) Stop() {
	if b.unsub != nil {
		b.unsub()
	}
	b.setControllerOnline(false)
	b.publishBridgeState("offline")
	if b.client != nil {
		b.client.Disconnect(1000)
	}
	b.logger.Info("MQTT bridge stopped")
}

func (b *Bridge) topic(suffix string) string {
	return b.prefix + "/" + suffix
}

func (b *Bridge) subscribe(c pahomqtt.Client) {
	for _, suffix := range []string{"device/status", "device/state", "cmd", "light/+/set"} {
		c.Subscribe(b.topic(suffix), 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
			b.handleMessage(msg.Topic(), msg.Payload())
		})
	}
}

// publishSnapshot publishes the catalog and merged status after a
// (re)connect so retained topics are current.
func (b *Bridge) publishSnapshot() {
	if ev, err := b.hub.CatalogEvent(); err == nil {
		b.Deliver(ev)
	} else {
		b.logger.Error("catalog for mqtt", "err", err)
	}
	if m, err := b.hub.Merged(); err == nil {
		b.Deliver(core.Event{Type: core.EventStatus, Payload: m})
	} else {
		b.logger.Error("status for mqtt", "err", err)
	}
}

// Deliver implements core.Subscriber.
func (b *Bridge) Deliver(e core.Event) error {
	switch e.Type {
	case core.EventStatus:
		m, ok := e.Payload.(core.MergedStatus)
		if !ok {
			return fmt.Errorf("status payload %T", e.Payload)
		}
		b.publish(b.topic("status"), mustJSON(m), true)
		for _, l := range m.Lights {
			b.publish(b.topic("light/"+lightTopicName(l.Name)+"/state"), statePayload(l.State), true)
		}
	case core.EventCommand:
		b.publish(b.topic("device/cmd"), mustJSON(e.Payload), false)
	case core.EventCatalog:
		b.publish(b.topic("device/lights"), mustJSON(e.Payload), true)
		lights, err := catalogLights(e)
		if err != nil {
			lights, err = b.hub.CatalogLights()
			if err != nil {
				return err
			}
		}
		b.publishDiscovery(lights)
	}
	return nil
}

func catalogLights(e core.Event) ([]store.Light, error) {
	p, ok := e.Payload.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("catalog payload %T", e.Payload)
	}
	lights, ok := p["lights"].([]store.Light)
	if !ok {
		return nil, fmt.Errorf("catalog lights %T", p["lights"])
	}
	return lights, nil
}

// publishDiscovery announces every catalog light and retracts the ones that
// were removed since the last announcement.
func (b *Bridge) publishDiscovery(lights []store.Light) {
	b.mu.Lock()
	current := make(map[string]string, len(lights))
	for _, l := range lights {
		current[lightTopicName(l.Name)] = l.Name
	}
	var removed []string
	for topicName, name := range b.discovered {
		if _, ok := current[topicName]; !ok {
			removed = append(removed, name)
		}
	}
	b.discovered = current
	b.mu.Unlock()

	for _, l := range lights {
		msg := buildDiscovery(l, b.prefix)
		b.publish(msg.Topic, msg.Payload, true)
	}
	for _, name := range removed {
		msg := buildRemoveDiscovery(name)
		b.publish(msg.Topic, msg.Payload, true)
		b.publish(b.topic("light/"+lightTopicName(name)+"/state"), []byte{}, true)
	}
}

// handleMessage processes one inbound message.
func (b *Bridge) handleMessage(topic string, payload []byte) {
	rest, ok := strings.CutPrefix(topic, b.prefix+"/")
	if !ok {
		return
	}
	switch rest {
	case "device/status":
		st, err := core.DecodeStatus(payload)
		if err != nil {
			b.logger.Warn("invalid status report", "code", core.CodeOf(err), "err", err)
			return
		}
		if _, err := b.hub.SetStatus(st); err != nil {
			b.logger.Error("store status", "err", err)
		}
	case "device/state":
		b.setControllerOnline(strings.EqualFold(strings.TrimSpace(string(payload)), "online"))
	case "cmd":
		cmd, _, err := core.DecodeCommand(payload)
		var res *core.Result
		if err == nil {
			res, err = b.dispatcher.Dispatch(cmd)
		}
		if err != nil {
			b.logger.Warn("mqtt command rejected", "code", core.CodeOf(err), "err", err)
		}
		ack := core.Ack(res, err)
		b.publish(b.topic("cmd/ack"), mustJSON(ack.Payload), false)
	default:
		if name, ok := strings.CutPrefix(rest, "light/"); ok {
			if name, ok = strings.CutSuffix(name, "/set"); ok && !strings.Contains(name, "/") {
				b.handleSet(name, payload)
			}
		}
	}
}

// handleSet switches a light from a HA-style ON/OFF/TOGGLE payload.
func (b *Bridge) handleSet(topicName string, payload []byte) {
	b.mu.Lock()
	name, ok := b.discovered[topicName]
	b.mu.Unlock()
	if !ok {
		name = topicName
	}

	cmd := core.SetLight{Target: name}
	switch strings.ToUpper(strings.TrimSpace(string(payload))) {
	case payloadOn:
		on := true
		cmd.State = &on
	case payloadOff:
		off := false
		cmd.State = &off
	case "TOGGLE":
		cmd.Toggle = true
	default:
		b.logger.Warn("invalid set payload", "light", name, "payload", string(payload))
		return
	}
	if _, err := b.dispatcher.Dispatch(cmd); err != nil {
		b.logger.Warn("set command failed", "light", name, "code", core.CodeOf(err), "err", err)
	}
}

// setControllerOnline attaches or detaches the MQTT controller link.
func (b *Bridge) setControllerOnline(online bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case online && b.detach == nil:
		b.detach = b.hub.AttachController("mqtt")
	case !online && b.detach != nil:
		b.detach()
		b.detach = nil
	}
}

func (b *Bridge) publishBridgeState(state string) {
	b.publish(b.topic("bridge/state"), []byte(state), true)
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	if b.pub == nil {
		return
	}
	token := b.pub.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}

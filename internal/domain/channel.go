package domain

// Channel is a broker topic shared by every instance of the fleet.
// Channel names must only be referenced through these constants.
type Channel string

const (
	ChannelSystem       Channel = "events:system"
	ChannelUser         Channel = "events:user"
	ChannelModel        Channel = "events:model"
	ChannelPlan         Channel = "events:plan"
	ChannelNotification Channel = "events:notification"
	ChannelWebSocket    Channel = "events:websocket"
	ChannelAudit        Channel = "events:audit"
)

// AllChannels lists every channel an instance subscribes to.
var AllChannels = []Channel{
	ChannelSystem,
	ChannelUser,
	ChannelModel,
	ChannelPlan,
	ChannelNotification,
	ChannelWebSocket,
	ChannelAudit,
}

func (c Channel) String() string { return string(c) }

// Valid reports whether c is one of the known channels.
func (c Channel) Valid() bool {
	switch c {
	case ChannelSystem, ChannelUser, ChannelModel, ChannelPlan, ChannelNotification, ChannelWebSocket, ChannelAudit:
		return true
	default:
		return false
	}
}

package main

import (
	"tools.zach/dev/xcodecord/internal/discord"
	"tools.zach/dev/xcodecord/internal/presence"
	"tools.zach/dev/xcodecord/internal/rpc"
)

// ///////////////////////////////////////////////
// Transport
// ///////////////////////////////////////////////

// connection is the presence transport owned by the daemon. Close ends it on
// shutdown without raising callbacks.
type connection interface {
	rpc.Transport
	Close() error
}

// dialer builds a connection that reports its events to h.
type dialer func(appID string, h discord.Handler) connection

// discordTransport adapts a [discord.Client] to [rpc.Transport].
type discordTransport struct {
	client *discord.Client
}

func newDiscordTransport(appID string, h discord.Handler) connection {
	return &discordTransport{client: discord.NewClient(appID, h)}
}

func (t *discordTransport) Connect() bool { return t.client.Connect() }

func (t *discordTransport) Disconnect() { t.client.Disconnect() }

func (t *discordTransport) SetPresence(p presence.Payload) error {
	return t.client.SetActivity(toDiscordActivity(p))
}

func (t *discordTransport) Close() error { return t.client.Close() }

// ///////////////////////////////////////////////
// Activity Mapping
// ///////////////////////////////////////////////

// toDiscordActivity converts a [presence.Payload] into the [discord.Activity]
// wire type, omitting empty optional sections.
func toDiscordActivity(p presence.Payload) *discord.Activity {
	da := &discord.Activity{
		Details: p.Details,
		State:   p.State,
	}
	if !p.Start.IsZero() {
		da.Timestamps = &discord.Timestamps{Start: p.Start.Unix()}
	}
	if p.LargeImage != "" || p.LargeText != "" {
		da.Assets = &discord.Assets{
			LargeImage: p.LargeImage,
			LargeText:  p.LargeText,
		}
	}
	return da
}

package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/onnwee/guildbot/magick"
)

// GuildStore is what the built-ins need to change guild settings.
type GuildStore interface {
	SetPrefix(ctx context.Context, id, prefix string) error
	SetDisabledChannels(ctx context.Context, id string, channels []string) error
}

// Deps wires the built-in commands to the rest of the bot.
type Deps struct {
	Engine        *magick.Engine
	Guilds        GuildStore
	HTTPClient    *http.Client
	MaxImageBytes int64
	MagickTimeout time.Duration
}

// RegisterBuiltins adds help, ping, prefix, tags, size, identify, disable and enable to r.
func RegisterBuiltins(r *Registry, d Deps) error {
	if d.HTTPClient == nil {
		d.HTTPClient = NewFetchClient(30 * time.Second)
	}
	if d.MaxImageBytes <= 0 {
		d.MaxImageBytes = 8 << 20
	}
	if d.MagickTimeout <= 0 {
		d.MagickTimeout = 2 * time.Minute
	}
	b := &builtins{reg: r, d: d}
	cmds := []Command{
		{Name: "help", Category: "general", Description: "Lists commands or shows how to use one", Usage: "help [command]", Run: b.help},
		{Name: "ping", Category: "general", Description: "Checks that the bot is alive", Usage: "ping", Run: b.ping},
		{Name: "prefix", Category: "settings", Description: "Shows or changes the command prefix", Usage: "prefix [new prefix]", Run: b.prefix},
		{Name: "tags", Category: "tags", Description: "Lists tags or shows one", Usage: "tags [name]", Run: b.tags},
		{Name: "size", Category: "image", Description: "Reports the dimensions of an image", Usage: "size <image url>", Run: b.size},
		{Name: "identify", Category: "image", Description: "Describes an image: format, geometry, depth, frames", Usage: "identify <image url>", Run: b.identify},
		{Name: "disable", Category: "settings", Description: "Stops the bot answering commands in this channel", Usage: "disable", ModOnly: true, Run: b.disable},
		{Name: "enable", Category: "settings", Description: "Lets the bot answer commands in this channel again", Usage: "enable", ModOnly: true, Run: b.enable},
	}
	for _, c := range cmds {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}

type builtins struct {
	reg *Registry
	d   Deps
}

func (b *builtins) help(ctx context.Context, inv *Invocation) (string, error) {
	prefix := inv.Guild.Prefix
	if len(inv.Args) > 0 {
		c, ok := b.reg.Lookup(inv.Args[0])
		if !ok {
			return fmt.Sprintf("No command named %q.", inv.Args[0]), nil
		}
		return fmt.Sprintf("%s%s: %s", prefix, c.Usage, c.Description), nil
	}
	return fmt.Sprintf("Commands: %s. Use %shelp <command> for details.", strings.Join(b.reg.Names(), ", "), prefix), nil
}

func (b *builtins) ping(ctx context.Context, inv *Invocation) (string, error) {
	return "Pong!", nil
}

func (b *builtins) prefix(ctx context.Context, inv *Invocation) (string, error) {
	if len(inv.Args) == 0 {
		return fmt.Sprintf("The prefix here is %s", inv.Guild.Prefix), nil
	}
	if !inv.Moderator {
		return "Only moderators can change the prefix.", nil
	}
	p := inv.Args[0]
	if len(p) > 8 {
		return "", ErrUsage
	}
	if err := b.d.Guilds.SetPrefix(ctx, inv.Guild.ID, p); err != nil {
		return "", err
	}
	inv.Guild.Prefix = p
	return fmt.Sprintf("Prefix changed to %s", p), nil
}

func (b *builtins) tags(ctx context.Context, inv *Invocation) (string, error) {
	if len(inv.Args) == 0 {
		if len(inv.Guild.Tags) == 0 {
			return "No tags yet.", nil
		}
		names := make([]string, 0, len(inv.Guild.Tags))
		for n := range inv.Guild.Tags {
			names = append(names, n)
		}
		sort.Strings(names)
		return "Tags: " + strings.Join(names, ", "), nil
	}
	content, ok := inv.Guild.Tags[strings.ToLower(inv.Args[0])]
	if !ok {
		return fmt.Sprintf("No tag named %q.", inv.Args[0]), nil
	}
	return content, nil
}

func (b *builtins) size(ctx context.Context, inv *Invocation) (string, error) {
	im, err := b.image(ctx, inv)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, b.d.MagickTimeout)
	defer cancel()
	sz, err := im.Size(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%dx%d", sz.Width, sz.Height), nil
}

func (b *builtins) identify(ctx context.Context, inv *Invocation) (string, error) {
	im, err := b.image(ctx, inv)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, b.d.MagickTimeout)
	defer cancel()
	md, err := im.Identify(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s %dx%d, %d frame(s), %d-bit %s, %s",
		md.Format, md.Width, md.Height, md.Frames, md.Depth, md.Class, md.FileSize), nil
}

func (b *builtins) disable(ctx context.Context, inv *Invocation) (string, error) {
	if slices.Contains(inv.Guild.DisabledChannels, inv.Channel) {
		return "Commands are already disabled here.", nil
	}
	next := append(slices.Clone(inv.Guild.DisabledChannels), inv.Channel)
	if err := b.d.Guilds.SetDisabledChannels(ctx, inv.Guild.ID, next); err != nil {
		return "", err
	}
	inv.Guild.DisabledChannels = next
	return "Commands disabled in this channel.", nil
}

func (b *builtins) enable(ctx context.Context, inv *Invocation) (string, error) {
	next := slices.DeleteFunc(slices.Clone(inv.Guild.DisabledChannels), func(c string) bool { return c == inv.Channel })
	if len(next) == len(inv.Guild.DisabledChannels) {
		return "Commands are not disabled here.", nil
	}
	if err := b.d.Guilds.SetDisabledChannels(ctx, inv.Guild.ID, next); err != nil {
		return "", err
	}
	inv.Guild.DisabledChannels = next
	return "Commands enabled in this channel.", nil
}

// image downloads the image named by the first argument and binds it to the engine.
func (b *builtins) image(ctx context.Context, inv *Invocation) (*magick.Image, error) {
	if len(inv.Args) == 0 {
		return nil, ErrUsage
	}
	data, err := Fetch(ctx, b.d.HTTPClient, inv.Args[0], b.d.MaxImageBytes)
	if err != nil {
		return nil, err
	}
	return b.d.Engine.Open(magick.FromBytes(data, "")), nil
}

// NewFetchClient returns an HTTP client for image downloads that retries
// connection failures and 5xx replies twice with backoff.
func NewFetchClient(timeout time.Duration) *http.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = slog.Default().With(slog.String("component", "fetch"))
	c := rc.StandardClient()
	c.Timeout = timeout
	return c
}

// Fetch downloads an http(s) URL, refusing bodies larger than limit bytes.
func Fetch(ctx context.Context, client *http.Client, rawURL string, limit int64) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("fetch image: %q is not an http(s) url", rawURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch image: unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("fetch image: larger than %d bytes", limit)
	}
	return data, nil
}

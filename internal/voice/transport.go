package voice

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"warden/internal/music"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const readyPollInterval = time.Second

// Transport implements music.Transport on top of discordgo voice connections
// and an ffmpeg child process per playback.
type Transport struct {
	session *discordgo.Session
	ffmpeg  string
	logger  *zap.Logger

	mu      sync.Mutex
	playing map[string]*playback
}

type connection struct {
	guildID string
	vc      *discordgo.VoiceConnection

	mu        sync.Mutex
	channelID string
}

func (c *connection) GuildID() string { return c.guildID }

func (c *connection) ChannelID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channelID
}

func (c *connection) ready() bool {
	c.vc.RLock()
	defer c.vc.RUnlock()
	return c.vc.Ready
}

type playback struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func NewTransport(session *discordgo.Session, ffmpegPath string, logger *zap.Logger) *Transport {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Transport{
		session: session,
		ffmpeg:  ffmpegPath,
		logger:  logger,
		playing: make(map[string]*playback),
	}
}

func (t *Transport) Connect(ctx context.Context, guildID, channelID string) (music.Connection, error) {
	type joined struct {
		vc  *discordgo.VoiceConnection
		err error
	}
	result := make(chan joined, 1)
	go func() {
		vc, err := t.session.ChannelVoiceJoin(guildID, channelID, false, true)
		result <- joined{vc: vc, err: err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if res := <-result; res.vc != nil {
				_ = res.vc.Disconnect()
			}
		}()
		return nil, ctx.Err()
	case res := <-result:
		if res.err != nil {
			if res.vc != nil {
				_ = res.vc.Disconnect()
			}
			return nil, fmt.Errorf("joining voice channel %s: %w", channelID, res.err)
		}
		return &connection{guildID: guildID, vc: res.vc, channelID: channelID}, nil
	}
}

func (t *Transport) Move(ctx context.Context, conn music.Connection, channelID string) error {
	c, ok := conn.(*connection)
	if !ok {
		return errors.New("foreign voice connection")
	}
	if err := c.vc.ChangeChannel(channelID, false, true); err != nil {
		return fmt.Errorf("moving to voice channel %s: %w", channelID, err)
	}
	c.mu.Lock()
	c.channelID = channelID
	c.mu.Unlock()
	return nil
}

func (t *Transport) Play(conn music.Connection, src music.AudioSource, onComplete func(error)) error {
	c, ok := conn.(*connection)
	if !ok {
		return errors.New("foreign voice connection")
	}
	if !c.ready() {
		return music.ErrConnectionLost
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, t.ffmpeg, ffmpegArgs(src.StreamURL, src.Volume)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("ffmpeg stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("ffmpeg stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("starting ffmpeg: %w", err)
	}

	pb := &playback{cancel: cancel, done: make(chan struct{})}
	t.mu.Lock()
	previous := t.playing[c.guildID]
	t.playing[c.guildID] = pb
	t.mu.Unlock()
	if previous != nil {
		previous.cancel()
	}

	logger := t.logger.With(zap.String("guild_id", c.guildID), zap.String("title", src.Title))
	lastLine := make(chan string, 1)
	go func() {
		var last string
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			last = scanner.Text()
			logger.Debug("ffmpeg", zap.String("line", last))
		}
		lastLine <- last
	}()

	var once sync.Once
	complete := func(err error) {
		once.Do(func() { onComplete(err) })
	}

	go func() {
		defer close(pb.done)
		sent, streamErr := t.stream(ctx, c, stdout)
		stopped := ctx.Err() != nil
		cancel()
		waitErr := cmd.Wait()
		tail := <-lastLine

		t.mu.Lock()
		if t.playing[c.guildID] == pb {
			delete(t.playing, c.guildID)
		}
		t.mu.Unlock()

		switch {
		case errors.Is(streamErr, music.ErrConnectionLost):
			complete(streamErr)
		case stopped:
			complete(nil)
		case sent == 0 && (streamErr != nil || waitErr != nil):
			complete(fmt.Errorf("ffmpeg produced no audio: %s", firstNonEmpty(tail, errorText(streamErr), errorText(waitErr))))
		case streamErr != nil:
			logger.Warn("stream ended early", zap.Int("frames", sent), zap.Error(streamErr))
			complete(nil)
		default:
			complete(nil)
		}
	}()
	return nil
}

// stream copies Opus packets into the voice connection until the source ends,
// ctx is canceled or the connection stops being ready.
func (t *Transport) stream(ctx context.Context, c *connection, stdout io.Reader) (int, error) {
	if err := c.vc.Speaking(true); err != nil {
		t.logger.Debug("speaking on failed", zap.String("guild_id", c.guildID), zap.Error(err))
	}
	defer func() {
		if err := c.vc.Speaking(false); err != nil {
			t.logger.Debug("speaking off failed", zap.String("guild_id", c.guildID), zap.Error(err))
		}
	}()

	watch := time.NewTicker(readyPollInterval)
	defer watch.Stop()

	reader := newOggReader(stdout)
	sent := 0
	for {
		packet, err := reader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return sent, nil
			}
			return sent, err
		}
	send:
		for {
			select {
			case c.vc.OpusSend <- packet:
				sent++
				break send
			case <-ctx.Done():
				return sent, nil
			case <-watch.C:
				if !c.ready() {
					return sent, music.ErrConnectionLost
				}
			}
		}
	}
}

func (t *Transport) Stop(conn music.Connection) {
	t.mu.Lock()
	pb := t.playing[conn.GuildID()]
	t.mu.Unlock()
	if pb != nil {
		pb.cancel()
	}
}

func (t *Transport) Disconnect(conn music.Connection) error {
	t.mu.Lock()
	pb := t.playing[conn.GuildID()]
	t.mu.Unlock()
	if pb != nil {
		pb.cancel()
		select {
		case <-pb.done:
		case <-time.After(2 * time.Second):
		}
	}
	c, ok := conn.(*connection)
	if !ok {
		return errors.New("foreign voice connection")
	}
	return c.vc.Disconnect()
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return "unknown error"
}

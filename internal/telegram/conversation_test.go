package telegram

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mediarelay/fetchbot/config"
	"github.com/mediarelay/fetchbot/internal/media"
	"github.com/mediarelay/fetchbot/internal/model"
	"github.com/mediarelay/fetchbot/internal/scheduler"
)

type fakeAPI struct {
	mu        sync.Mutex
	sent      []tgbotapi.Chattable
	requests  []tgbotapi.Chattable
	nextID    int
	sendErr   error
	failPhoto bool
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return tgbotapi.Message{}, f.sendErr
	}
	if _, ok := c.(tgbotapi.PhotoConfig); ok && f.failPhoto {
		return tgbotapi.Message{}, errors.New("photo rejected")
	}
	f.sent = append(f.sent, c)
	f.nextID++
	return tgbotapi.Message{MessageID: f.nextID}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

// texts flattens everything sent through the fake into display text.
func (f *fakeAPI) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.sent {
		switch m := c.(type) {
		case tgbotapi.MessageConfig:
			out = append(out, m.Text)
		case tgbotapi.EditMessageTextConfig:
			out = append(out, m.Text)
		case tgbotapi.PhotoConfig:
			out = append(out, m.Caption)
		}
	}
	return out
}

func (f *fakeAPI) lastText() string {
	all := f.texts()
	if len(all) == 0 {
		return ""
	}
	return all[len(all)-1]
}

func (f *fakeAPI) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeQueue struct {
	mu        sync.Mutex
	submitted []model.TaskSpec
	submitErr error
	pending   []model.Task
	cancelN   int
	stats     scheduler.Stats
}

func (q *fakeQueue) Submit(ownerID int64, spec model.TaskSpec) (string, int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.submitErr != nil {
		return "", 0, q.submitErr
	}
	q.submitted = append(q.submitted, spec)
	return "task-1", len(q.submitted), nil
}

func (q *fakeQueue) Cancel(ownerID int64) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.cancelN
	q.cancelN = 0
	return n, nil
}

func (q *fakeQueue) Pending(ownerID int64) []model.Task { return q.pending }

func (q *fakeQueue) Stats() scheduler.Stats { return q.stats }

type fakeResolver struct {
	mu          sync.Mutex
	meta        media.Metadata
	err         error
	lastLocator string
}

func (r *fakeResolver) Resolve(ctx context.Context, locator string) (media.Metadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastLocator = locator
	return r.meta, r.err
}

func testConfig() *config.Config {
	return &config.Config{
		AdminIDs:               []int64{99},
		SupportedSitesURL:      "https://example.com/sites",
		WelcomeImageURL:        "https://example.com/welcome.jpg",
		ConversationTimeoutSec: 600,
		ResolveTimeoutSec:      5,
	}
}

func textMessage(chatID int64, text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		MessageID: 1,
		From:      &tgbotapi.User{ID: chatID, FirstName: "Alex"},
		Chat:      &tgbotapi.Chat{ID: chatID},
		Text:      text,
	}
}

func callback(chatID int64, messageID int, data string) *tgbotapi.CallbackQuery {
	return &tgbotapi.CallbackQuery{
		ID:      "cb",
		From:    &tgbotapi.User{ID: chatID},
		Message: &tgbotapi.Message{MessageID: messageID, Chat: &tgbotapi.Chat{ID: chatID}},
		Data:    data,
	}
}

func newTestConversations(api chatAPI, q queue, resolver media.Resolver) *Conversations {
	return NewConversations(testConfig(), api, q, resolver, zap.NewNop())
}

func TestConversationVideoFlow(t *testing.T) {
	api := &fakeAPI{}
	q := &fakeQueue{}
	resolver := &fakeResolver{meta: media.Metadata{
		Title: "Test Clip",
		VideoOptions: []media.VideoOption{
			{FormatID: "248", Height: 1080, SizeBytes: 15000000},
			{FormatID: "247", Height: 720, SizeBytes: 8000000},
		},
	}}
	convos := newTestConversations(api, q, resolver)

	convos.HandleText(textMessage(7, "https://youtu.be/abc123"))

	texts := api.texts()
	require.GreaterOrEqual(t, len(texts), 2)
	assert.Equal(t, "🔍 Analyzing link, please wait...", texts[0])
	assert.Contains(t, texts[1], "Test Clip")
	assert.Contains(t, texts[1], "Choose your desired format:")
	assert.Equal(t, "https://www.youtube.com/watch?v=abc123", resolver.lastLocator)

	convos.HandleCallback(callback(7, 2, "format|mp4"))
	assert.Equal(t, "Please select a video quality:", api.lastText())

	convos.HandleCallback(callback(7, 2, "quality|248"))
	assert.Equal(t, "Do you want to rename the file?", api.lastText())

	convos.HandleCallback(callback(7, 2, "rename|no"))
	assert.Equal(t, "✅ Task added to your queue at position #1.", api.lastText())

	require.Len(t, q.submitted, 1)
	spec := q.submitted[0]
	assert.Equal(t, "https://www.youtube.com/watch?v=abc123", spec.SourceURL)
	assert.Equal(t, model.KindVideo, spec.Kind)
	assert.Equal(t, "248", spec.Quality)
	assert.Empty(t, spec.DesiredName)
}

func TestConversationQualityMenuLabels(t *testing.T) {
	api := &fakeAPI{}
	q := &fakeQueue{}
	resolver := &fakeResolver{meta: media.Metadata{
		Title: "Test Clip",
		VideoOptions: []media.VideoOption{
			{FormatID: "248", Height: 1080, SizeBytes: 15000000},
			{FormatID: "602", Height: 144},
		},
	}}
	convos := newTestConversations(api, q, resolver)

	convos.HandleText(textMessage(7, "https://example.com/v"))
	convos.HandleCallback(callback(7, 2, "format|mp4"))

	api.mu.Lock()
	defer api.mu.Unlock()
	edit, ok := api.sent[len(api.sent)-1].(tgbotapi.EditMessageTextConfig)
	require.True(t, ok)
	require.NotNil(t, edit.ReplyMarkup)
	rows := edit.ReplyMarkup.InlineKeyboard
	require.Len(t, rows, 2)
	assert.Contains(t, rows[0][0].Text, "1080p")
	assert.Contains(t, rows[0][0].Text, "~")
	assert.Equal(t, "quality|248", *rows[0][0].CallbackData)
	assert.Equal(t, "144p", rows[1][0].Text, "no size annotation without a known size")
}

func TestConversationAudioRenameFlow(t *testing.T) {
	api := &fakeAPI{}
	q := &fakeQueue{}
	resolver := &fakeResolver{meta: media.Metadata{Title: "Test Song"}}
	convos := newTestConversations(api, q, resolver)

	convos.HandleText(textMessage(7, "https://example.com/song"))
	convos.HandleCallback(callback(7, 2, "format|mp3"))
	assert.Equal(t, "Do you want to rename the file?", api.lastText(),
		"audio skips the quality menu")

	convos.HandleCallback(callback(7, 2, "rename|yes"))
	assert.Equal(t, "OK. Please send me the new filename (without the file extension).", api.lastText())

	convos.HandleText(textMessage(7, "My Song: Remix"))
	assert.Equal(t, "✅ Task added to your queue at position #1.", api.lastText())

	require.Len(t, q.submitted, 1)
	spec := q.submitted[0]
	assert.Equal(t, model.KindAudio, spec.Kind)
	assert.Empty(t, spec.Quality)
	assert.Equal(t, "My Song_ Remix", spec.DesiredName, "filename is sanitized")

	// The conversation is gone once the task is queued.
	convos.HandleCallback(callback(7, 2, "rename|no"))
	assert.Equal(t, "This menu has expired. Send the link again.", api.lastText())
}

func TestResolveErrorText(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			"unsupported url",
			errors.New("yt-dlp probe: ERROR: Unsupported URL: https://example.com"),
			"❌ Error: This website or link is not supported.",
		},
		{
			"unavailable",
			errors.New("Video unavailable"),
			"❌ Error: This video is unavailable.",
		},
		{
			"private",
			errors.New("Private video"),
			"❌ Error: This video is private.",
		},
		{
			"login required",
			errors.New("Sign in to confirm your age"),
			"❌ Error: Could not process the link.\n\nThis video may require a login. The bot's cookie file could be invalid or expired.",
		},
		{
			"anything else",
			errors.New("connection reset by peer"),
			"❌ Error: Could not process the link.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, resolveErrorText(tt.err))
		})
	}
}

func TestConversationResolveFailure(t *testing.T) {
	api := &fakeAPI{}
	q := &fakeQueue{}
	resolver := &fakeResolver{err: errors.New("ERROR: Unsupported URL: https://example.com")}
	convos := newTestConversations(api, q, resolver)

	convos.HandleText(textMessage(7, "https://example.com/nope"))

	assert.Equal(t, "❌ Error: This website or link is not supported.", api.lastText())
	assert.Empty(t, q.submitted)

	// No conversation was started.
	convos.HandleCallback(callback(7, 2, "format|mp4"))
	assert.Equal(t, "This menu has expired. Send the link again.", api.lastText())
}

func TestConversationNoVideoOptions(t *testing.T) {
	api := &fakeAPI{}
	q := &fakeQueue{}
	resolver := &fakeResolver{meta: media.Metadata{Title: "Audio Only"}}
	convos := newTestConversations(api, q, resolver)

	convos.HandleText(textMessage(7, "https://example.com/track"))
	convos.HandleCallback(callback(7, 2, "format|mp4"))

	assert.Equal(t, "No video formats found for this link. Please choose audio instead.", api.lastText())

	convos.HandleCallback(callback(7, 2, "format|mp3"))
	assert.Equal(t, "This menu has expired. Send the link again.", api.lastText())
}

func TestConversationStaleMenuPressIgnored(t *testing.T) {
	api := &fakeAPI{}
	q := &fakeQueue{}
	resolver := &fakeResolver{meta: media.Metadata{
		Title:        "Test Clip",
		VideoOptions: []media.VideoOption{{FormatID: "248", Height: 1080}},
	}}
	convos := newTestConversations(api, q, resolver)

	convos.HandleText(textMessage(7, "https://example.com/v"))
	convos.HandleCallback(callback(7, 2, "format|mp4"))
	convos.HandleCallback(callback(7, 2, "quality|248"))

	before := api.sentCount()
	convos.HandleCallback(callback(7, 2, "format|mp4"))
	assert.Equal(t, before, api.sentCount(), "press on an already-passed menu does nothing")
}

func TestConversationSweep(t *testing.T) {
	api := &fakeAPI{}
	q := &fakeQueue{}
	resolver := &fakeResolver{meta: media.Metadata{Title: "Test Clip"}}
	convos := newTestConversations(api, q, resolver)

	convos.HandleText(textMessage(7, "https://example.com/v"))
	convos.sweep(time.Now().Add(11 * time.Minute))

	convos.HandleCallback(callback(7, 2, "format|mp3"))
	assert.Equal(t, "This menu has expired. Send the link again.", api.lastText())
}

func TestConversationSubmitError(t *testing.T) {
	api := &fakeAPI{}
	q := &fakeQueue{submitErr: errors.New("store unavailable")}
	resolver := &fakeResolver{meta: media.Metadata{Title: "Test Song"}}
	convos := newTestConversations(api, q, resolver)

	convos.HandleText(textMessage(7, "https://example.com/song"))
	convos.HandleCallback(callback(7, 2, "format|mp3"))
	convos.HandleCallback(callback(7, 2, "rename|no"))

	assert.Equal(t, "❌ Error queuing the download. Please try again.", api.lastText())
}

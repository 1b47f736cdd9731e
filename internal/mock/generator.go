// Package mock drives synthetic social activity for demos. A handful of bot
// accounts post, like and comment on a timer, so connected clients see live
// fan-out without any real users.
package mock

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/orbit-social/backend/internal/model"
	"github.com/orbit-social/backend/internal/store"
)

// botPassword is not a valid bcrypt hash, so nobody can log in as a bot.
const botPassword = "!mock"

// maxRecentPosts bounds how many bot posts are kept as like/comment targets.
const maxRecentPosts = 20

type Users interface {
	CreateUser(ctx context.Context, u model.User) (model.User, error)
	UserByLogin(ctx context.Context, login string) (model.User, error)
}

type Social interface {
	CreatePost(ctx context.Context, userID, text string, files []string) (model.Post, error)
	Like(ctx context.Context, userID, postID string) (model.Like, error)
	AddComment(ctx context.Context, userID, postID, text string) (model.Comment, error)
}

type botDef struct {
	username string
	fullName string
	pattern  string
	every    int
	lines    []string
}

var bots = []botDef{
	{
		username: "mock-poster", fullName: "Pat Poster", pattern: "post", every: 4,
		lines: []string{
			"Morning run done, coffee next.",
			"Anyone tried the new ramen place downtown?",
			"Reading about distributed systems again.",
			"Weekend plans: absolutely nothing.",
		},
	},
	{
		username: "mock-fan", fullName: "Frankie Fan", pattern: "like", every: 2,
	},
	{
		username: "mock-critic", fullName: "Cass Critic", pattern: "comment", every: 3,
		lines: []string{
			"Hard disagree.",
			"Underrated take.",
			"Source?",
			"This is the way.",
		},
	},
}

type bot struct {
	def  botDef
	user model.User
	line int
}

type Generator struct {
	users    Users
	social   Social
	interval time.Duration
	logger   *slog.Logger
	rnd      *rand.Rand

	bots  []*bot
	posts []model.Post
}

func NewGenerator(users Users, social Social, interval time.Duration, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Generator{
		users:    users,
		social:   social,
		interval: interval,
		logger:   logger,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Start makes sure the bot accounts exist, then runs the activity loop until
// ctx is cancelled.
func (g *Generator) Start(ctx context.Context) error {
	if err := g.ensureBots(ctx); err != nil {
		return err
	}
	go g.run(ctx)
	return nil
}

func (g *Generator) ensureBots(ctx context.Context) error {
	g.bots = g.bots[:0]
	for _, def := range bots {
		u, err := g.users.UserByLogin(ctx, def.username)
		if errors.Is(err, store.ErrNotFound) {
			u, err = g.users.CreateUser(ctx, model.User{
				Email:        def.username + "@mock.invalid",
				Username:     def.username,
				FullName:     def.fullName,
				PasswordHash: botPassword,
			})
		}
		if err != nil {
			return err
		}
		g.bots = append(g.bots, &bot{def: def, user: u})
	}
	return nil
}

func (g *Generator) run(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	tick := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick++
			g.step(ctx, tick)
		}
	}
}

func (g *Generator) step(ctx context.Context, tick int) {
	for _, b := range g.bots {
		if tick%b.def.every != 0 {
			continue
		}
		var err error
		switch b.def.pattern {
		case "post":
			err = g.post(ctx, b)
		case "like":
			err = g.like(ctx, b)
		case "comment":
			err = g.comment(ctx, b)
		}
		if err != nil && !errors.Is(err, store.ErrDuplicate) && !errors.Is(err, store.ErrNotFound) {
			g.logger.Warn("mock activity failed", "bot", b.def.username, "error", err)
		}
	}
}

func (b *bot) nextLine() string {
	s := b.def.lines[b.line%len(b.def.lines)]
	b.line++
	return s
}

func (g *Generator) post(ctx context.Context, b *bot) error {
	p, err := g.social.CreatePost(ctx, b.user.ID, b.nextLine(), nil)
	if err != nil {
		return err
	}
	g.posts = append(g.posts, p)
	if len(g.posts) > maxRecentPosts {
		g.posts = g.posts[len(g.posts)-maxRecentPosts:]
	}
	return nil
}

// like targets the newest post; a repeat like is reported as ErrDuplicate
// and ignored.
func (g *Generator) like(ctx context.Context, b *bot) error {
	if len(g.posts) == 0 {
		return nil
	}
	_, err := g.social.Like(ctx, b.user.ID, g.posts[len(g.posts)-1].ID)
	return err
}

func (g *Generator) comment(ctx context.Context, b *bot) error {
	if len(g.posts) == 0 {
		return nil
	}
	target := g.posts[g.rnd.Intn(len(g.posts))]
	_, err := g.social.AddComment(ctx, b.user.ID, target.ID, b.nextLine())
	return err
}

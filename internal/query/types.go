package query

import (
	"time"

	"github.com/steemit/enginemind/internal/db"
	"github.com/steemit/enginemind/internal/models"
)

const timeLayout = "2006-01-02T15:04:05"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// VoteView is one vote as served by the API
type VoteView struct {
	Voter     string  `json:"voter"`
	Percent   int64   `json:"percent"`
	Rshares   float64 `json:"rshares"`
	Timestamp string  `json:"timestamp"`
}

// PostView is one post as served by the API
type PostView struct {
	Author         string     `json:"author"`
	Permlink       string     `json:"permlink"`
	Authorperm     string     `json:"authorperm"`
	Token          string     `json:"token"`
	Title          string     `json:"title"`
	Desc           string     `json:"desc"`
	Tags           string     `json:"tags"`
	ParentAuthor   string     `json:"parent_author"`
	ParentPermlink string     `json:"parent_permlink"`
	MainPost       bool       `json:"main_post"`
	Children       int64      `json:"children"`
	DeclinePayout  bool       `json:"decline_payout"`
	App            string     `json:"app"`
	Created        string     `json:"created"`
	CashoutTime    string     `json:"cashout_time"`
	LastPayout     string     `json:"last_payout"`
	VoteRshares    float64    `json:"vote_rshares"`
	ScoreTrend     float64    `json:"score_trend"`
	ScoreHot       float64    `json:"score_hot"`
	Promoted       float64    `json:"promoted"`
	ActiveVotes    []VoteView `json:"active_votes"`
	RebloggedBy    []string   `json:"reblogged_by,omitempty"`
	Hive           bool       `json:"hive"`
}

func newPostView(post *models.Post) *PostView {
	author, permlink, err := models.ResolveAuthorperm(post.Authorperm)
	if err != nil {
		author = post.Author
		permlink = post.Authorperm
	}
	return &PostView{
		Author:         author,
		Permlink:       permlink,
		Authorperm:     post.Authorperm,
		Token:          post.Token,
		Title:          post.Title,
		Desc:           post.Desc,
		Tags:           post.Tags,
		ParentAuthor:   post.ParentAuthor,
		ParentPermlink: post.ParentPermlink,
		MainPost:       post.MainPost,
		Children:       post.Children,
		DeclinePayout:  post.DeclinePayout,
		App:            post.App,
		Created:        formatTime(post.Created),
		CashoutTime:    formatTime(post.CashoutTime),
		LastPayout:     formatTime(post.LastPayout),
		VoteRshares:    post.VoteRshares,
		ScoreTrend:     post.ScoreTrend,
		ScoreHot:       post.ScoreHot,
		Promoted:       post.Promoted,
		ActiveVotes:    []VoteView{},
		Hive:           true,
	}
}

// AccountView is one per-token account row as served by the API
type AccountView struct {
	Name                  string  `json:"name"`
	Symbol                string  `json:"symbol"`
	LastRootPost          *string `json:"last_root_post"`
	LastPost              *string `json:"last_post"`
	LastFollowRefreshTime *string `json:"last_follow_refresh_time"`
}

func newAccountView(acc *models.Account) *AccountView {
	view := &AccountView{Name: acc.Name, Symbol: acc.Symbol}
	if acc.LastRootPost != nil {
		s := formatTime(*acc.LastRootPost)
		view.LastRootPost = &s
	}
	if acc.LastPost != nil {
		s := formatTime(*acc.LastPost)
		view.LastPost = &s
	}
	if acc.LastFollowRefreshTime != nil {
		s := formatTime(*acc.LastFollowRefreshTime)
		view.LastFollowRefreshTime = &s
	}
	return view
}

// StateView reports ingestion progress for both sources
type StateView struct {
	LastStreamedBlock      int64   `json:"last_streamed_block"`
	LastStreamedTimestamp  string  `json:"last_streamed_timestamp"`
	TimeDelaySeconds       float64 `json:"time_delay_seconds"`
	EngineLastBlock        int64   `json:"last_engine_streamed_block"`
	EngineTimeDelaySeconds float64 `json:"engine_time_delay_seconds"`
}

// FollowView is one follow edge as served by the API
type FollowView struct {
	Follower  string `json:"follower"`
	Following string `json:"following"`
}

// StakedAccount is one token holder with staked balance
type StakedAccount struct {
	Name         string  `json:"name"`
	StakedTokens float64 `json:"staked_tokens"`
}

// TokenInfo is reward pool and token metadata fetched from the sidechain
type TokenInfo struct {
	Token          string  `json:"token,omitempty"`
	PendingRshares float64 `json:"pending_rshares,omitempty"`
	RewardPool     float64 `json:"reward_pool,omitempty"`
	Precision      int     `json:"precision,omitempty"`
	Issuer         string  `json:"issuer,omitempty"`
}

// Params carries the common discussion listing arguments
type Params struct {
	Token          string
	Tag            string
	Account        string
	Limit          int
	StartAuthor    string
	StartPermlink  string
	Voter          string
	NoVotes        bool
	IncludeReblogs bool
}

// cursorValid enforces that the pagination cursor arrives whole: author
// and permlink both set, or neither.
func (p *Params) cursorValid() bool {
	return (p.StartAuthor == "") == (p.StartPermlink == "")
}

func (p *Params) startAuthorperm() string {
	if p.StartAuthor == "" || p.StartPermlink == "" {
		return ""
	}
	return models.ConstructAuthorperm(p.StartAuthor, p.StartPermlink)
}

func (p *Params) limit() int {
	if p.Limit <= 0 {
		return 20
	}
	return p.Limit
}

func feedViews(rows []*db.FeedRow) []*PostView {
	views := make([]*PostView, 0, len(rows))
	for _, row := range rows {
		view := newPostView(&row.Post)
		if row.RebloggedBy != nil && *row.RebloggedBy != "" {
			view.RebloggedBy = []string{*row.RebloggedBy}
		}
		views = append(views, view)
	}
	return views
}

func postViews(posts []*models.Post) []*PostView {
	views := make([]*PostView, 0, len(posts))
	for _, post := range posts {
		views = append(views, newPostView(post))
	}
	return views
}

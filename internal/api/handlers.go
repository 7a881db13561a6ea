package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/steemit/enginemind/internal/query"
)

func tokenParam(c *gin.Context) string {
	return strings.ToUpper(c.Query("token"))
}

func limitParam(c *gin.Context, fallback int) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return fallback, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return limit, true
}

func boolParam(c *gin.Context, name string, fallback bool) bool {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return true
	}
	return parsed
}

// listParams decodes the shared discussion listing arguments. ok is false
// when the request is malformed, which serves as an empty list.
func listParams(c *gin.Context, includeReblogsDefault bool) (*query.Params, bool) {
	limit, ok := limitParam(c, 20)
	if !ok {
		return nil, false
	}
	p := &query.Params{
		Token:          tokenParam(c),
		Tag:            c.Query("tag"),
		Account:        c.Query("tag"),
		Limit:          limit,
		StartAuthor:    c.Query("start_author"),
		StartPermlink:  c.Query("start_permlink"),
		Voter:          c.Query("voter"),
		NoVotes:        c.Query("no_votes") != "",
		IncludeReblogs: boolParam(c, "include_reblogs", includeReblogsDefault),
	}
	if p.Token == "" {
		return nil, false
	}
	return p, true
}

func (r *Router) serve(c *gin.Context, result interface{}, err error) {
	if err != nil {
		r.logger.Error("Query failed",
			zap.String("path", c.Request.URL.Path), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (r *Router) stateHandler(c *gin.Context) {
	state, err := r.engine.State(c.Request.Context())
	r.serve(c, state, err)
}

func (r *Router) infoHandler(c *gin.Context) {
	ctx := c.Request.Context()
	token := tokenParam(c)

	if token != "" {
		info, err := r.engine.TokenInfo(ctx, token)
		if err != nil {
			r.serve(c, nil, err)
			return
		}
		if info == nil {
			c.JSON(http.StatusOK, gin.H{})
			return
		}
		c.JSON(http.StatusOK, info)
		return
	}

	configs, err := r.engine.TokenConfigs(ctx)
	if err != nil {
		r.serve(c, nil, err)
		return
	}
	result := make(map[string]*query.TokenInfo, len(configs))
	for _, tc := range configs {
		info, err := r.engine.TokenInfo(ctx, tc.Token)
		if err != nil {
			r.serve(c, nil, err)
			return
		}
		if info != nil {
			info.Token = tc.Token
			result[tc.Token] = info
		}
	}
	c.JSON(http.StatusOK, result)
}

func (r *Router) configHandler(c *gin.Context) {
	ctx := c.Request.Context()
	token := tokenParam(c)

	if token == "" {
		configs, err := r.engine.TokenConfigs(ctx)
		r.serve(c, configs, err)
		return
	}

	tc, err := r.engine.TokenConfig(ctx, token)
	if err != nil {
		r.serve(c, nil, err)
		return
	}
	if tc == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.JSON(http.StatusOK, tc)
}

func (r *Router) accountHandler(c *gin.Context, account string) {
	views, err := r.engine.Account(c.Request.Context(), account, tokenParam(c))
	r.serve(c, views, err)
}

func (r *Router) postHandler(c *gin.Context, account, permlink string) {
	views, err := r.engine.Post(c.Request.Context(), account, permlink, tokenParam(c))
	r.serve(c, views, err)
}

func (r *Router) threadHandler(c *gin.Context) {
	token := tokenParam(c)
	author := c.Query("author")
	permlink := c.Query("permlink")
	if token == "" || author == "" || permlink == "" {
		c.JSON(http.StatusOK, []struct{}{})
		return
	}
	refresh := c.Query("refresh") != ""

	views, err := r.engine.Thread(c.Request.Context(), token, author, permlink, refresh)
	r.serve(c, views, err)
}

func (r *Router) feedHandler(c *gin.Context) {
	p, ok := listParams(c, true)
	if !ok || p.Account == "" {
		c.JSON(http.StatusOK, []struct{}{})
		return
	}
	views, err := r.engine.Feed(c.Request.Context(), p)
	r.serve(c, views, err)
}

func (r *Router) discussionsByCreatedHandler(c *gin.Context) {
	p, ok := listParams(c, false)
	if !ok {
		c.JSON(http.StatusOK, []struct{}{})
		return
	}
	views, err := r.engine.DiscussionsByCreated(c.Request.Context(), p)
	r.serve(c, views, err)
}

func (r *Router) scoreHandler(scoreColumn string, mainOnly bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := listParams(c, false)
		if !ok {
			c.JSON(http.StatusOK, []struct{}{})
			return
		}
		views, err := r.engine.DiscussionsByScore(c.Request.Context(), scoreColumn, mainOnly, p)
		r.serve(c, views, err)
	}
}

func (r *Router) blogHandler(c *gin.Context) {
	p, ok := listParams(c, false)
	if !ok || p.Account == "" {
		c.JSON(http.StatusOK, []struct{}{})
		return
	}
	views, err := r.engine.Blog(c.Request.Context(), p)
	r.serve(c, views, err)
}

func (r *Router) commentsHandler(c *gin.Context) {
	p, ok := listParams(c, false)
	if !ok || p.Account == "" {
		c.JSON(http.StatusOK, []struct{}{})
		return
	}
	views, err := r.engine.Comments(c.Request.Context(), p)
	r.serve(c, views, err)
}

func (r *Router) repliesHandler(c *gin.Context) {
	p, ok := listParams(c, false)
	if !ok || p.Account == "" {
		c.JSON(http.StatusOK, []struct{}{})
		return
	}
	views, err := r.engine.Replies(c.Request.Context(), p)
	r.serve(c, views, err)
}

func (r *Router) trendingTagsHandler(c *gin.Context) {
	token := tokenParam(c)
	limit, ok := limitParam(c, 40)
	if !ok || token == "" {
		c.JSON(http.StatusOK, []struct{}{})
		return
	}
	tags, err := r.engine.TrendingTags(c.Request.Context(), token, limit)
	r.serve(c, tags, err)
}

func (r *Router) stakedAccountsHandler(c *gin.Context) {
	token := tokenParam(c)
	if token == "" {
		c.JSON(http.StatusOK, []struct{}{})
		return
	}
	holders, err := r.engine.StakedAccounts(c.Request.Context(), token)
	r.serve(c, holders, err)
}

func (r *Router) followingHandler(c *gin.Context) {
	limit, ok := limitParam(c, 1000)
	if !ok {
		c.JSON(http.StatusOK, []struct{}{})
		return
	}
	views, err := r.engine.Following(c.Request.Context(),
		c.Query("follower"), c.Query("following"), c.Query("status"), c.Query("start"), limit)
	r.serve(c, views, err)
}

func (r *Router) followCountHandler(c *gin.Context) {
	account := c.Query("account")
	if account == "" {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	counts, err := r.engine.FollowCount(c.Request.Context(), account)
	r.serve(c, counts, err)
}

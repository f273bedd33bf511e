// handlers/contest_routes.go
package handlers

import (
	"design-battle-system/middleware"
	"design-battle-system/models"
	"design-battle-system/services"

	"github.com/gofiber/fiber/v2"
)

// ContestAPI bundles what the contest routes need.
type ContestAPI struct {
	Store                *services.BattleStore
	Ledger               *services.VoteLedger
	Lifecycle            *services.Lifecycle
	GatewayToken         string                    // required for X-User-* headers
	Tokens               middleware.TokenValidator // nil: gateway headers only
	VoteLimiter          *middleware.RateLimiter
	CreateLimiter        *middleware.RateLimiter
	DefaultDurationHours int
	ExposeErrors         bool
}

type createContestRequest struct {
	ItemAID         string   `json:"itemAId"`
	ItemBID         string   `json:"itemBId"`
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	DurationHours   *int     `json:"durationHours"`
	Tags            []string `json:"tags"`
	Category        string   `json:"category"`
	AllowVoteChange *bool    `json:"allowVoteChange"`
}

type voteRequest struct {
	Choice models.Choice `json:"choice"`
}

type commentRequest struct {
	Text string `json:"text"`
}

func SetupContestRoutes(app *fiber.App, api ContestAPI) {
	if api.VoteLimiter == nil {
		api.VoteLimiter = middleware.NewVoteRateLimiter(20, nil)
	}
	if api.CreateLimiter == nil {
		api.CreateLimiter = middleware.NewCreateContestRateLimiter(5, nil)
	}

	fail := func(c *fiber.Ctx, err error) error {
		return respondError(c, err, api.ExposeErrors)
	}

	contests := app.Group("/contests", middleware.UserContextMiddleware(api.GatewayToken, api.Tokens))

	// Static paths are registered before /:id.
	contests.Get("/active", func(c *fiber.Ctx) error {
		sort, err := services.ParseSort(c.Query("sort"), services.SortVotes)
		if err != nil {
			return fail(c, err)
		}
		f := services.ListFilter{
			Status:   models.StatusActive,
			Sort:     sort,
			Category: c.Query("category"),
			Tag:      c.Query("tag"),
			Page:     c.QueryInt("page", 1),
			Limit:    c.QueryInt("limit", services.DefaultPageLimit),
		}
		return listContests(c, api, f)
	})

	contests.Get("/completed", func(c *fiber.Ctx) error {
		f := services.ListFilter{
			Status:   models.StatusCompleted,
			Sort:     services.SortEnded,
			Category: c.Query("category"),
			Tag:      c.Query("tag"),
			Page:     c.QueryInt("page", 1),
			Limit:    c.QueryInt("limit", services.DefaultPageLimit),
		}
		return listContests(c, api, f)
	})

	contests.Get("/stats", func(c *fiber.Ctx) error {
		stats, err := api.Store.Stats(c.UserContext())
		if err != nil {
			return fail(c, err)
		}
		return respond(c, fiber.StatusOK, "contest stats", fiber.Map{"stats": stats})
	})

	contests.Get("/user/:userId/votes", middleware.RequireUser(), func(c *fiber.Ctx) error {
		target := c.Params("userId")
		if target != middleware.UserID(c) && !middleware.HasRole(c, middleware.RoleAdmin) {
			return fail(c, services.ForbiddenError("you can only view your own votes"))
		}
		page := c.QueryInt("page", 1)
		limit := c.QueryInt("limit", services.DefaultPageLimit)

		history, total, err := api.Ledger.UserVoteHistory(c.UserContext(), target, page, limit)
		if err != nil {
			return fail(c, err)
		}
		return respond(c, fiber.StatusOK, "vote history", fiber.Map{
			"votes":      history,
			"pagination": newPagination(page, limit, total),
		})
	})

	contests.Post("/finalize", middleware.RequireAdmin(), func(c *fiber.Ctx) error {
		n, err := api.Lifecycle.FinalizeExpired(c.UserContext())
		if err != nil {
			return fail(c, err)
		}
		return respond(c, fiber.StatusOK, "expired contests finalized", fiber.Map{"finalized": n})
	})

	contests.Post("/", middleware.RequireUser(), api.CreateLimiter.Handler(), func(c *fiber.Ctx) error {
		var req createContestRequest
		if err := c.BodyParser(&req); err != nil {
			return fail(c, services.ValidationError("invalid request body"))
		}
		duration := api.DefaultDurationHours
		if req.DurationHours != nil {
			duration = *req.DurationHours
		}

		contest, err := api.Store.CreateContest(c.UserContext(), services.CreateContestInput{
			ItemAID:         req.ItemAID,
			ItemBID:         req.ItemBID,
			Title:           req.Title,
			Description:     req.Description,
			DurationHours:   duration,
			CreatedBy:       middleware.UserID(c),
			Tags:            req.Tags,
			Category:        req.Category,
			AllowVoteChange: req.AllowVoteChange,
		})
		if err != nil {
			return fail(c, err)
		}
		view, err := api.Store.DescribeContest(c.UserContext(), contest, nil)
		if err != nil {
			return fail(c, err)
		}
		return respond(c, fiber.StatusCreated, "contest created", fiber.Map{"contest": view})
	})

	contests.Get("/:id", func(c *fiber.Ctx) error {
		ctx := c.UserContext()
		contest, err := api.Store.GetContest(ctx, c.Params("id"))
		if err != nil {
			return fail(c, err)
		}

		var userVote *models.Choice
		if uid := middleware.UserID(c); uid != "" {
			rec, err := api.Ledger.UserVote(ctx, contest.ID, uid)
			if err != nil {
				return fail(c, err)
			}
			if rec != nil {
				userVote = &rec.Choice
			}
		}

		view, err := api.Store.DescribeContest(ctx, contest, userVote)
		if err != nil {
			return fail(c, err)
		}
		return respond(c, fiber.StatusOK, "contest", fiber.Map{"contest": view})
	})

	contests.Post("/:id/vote", middleware.RequireUser(), api.VoteLimiter.Handler(), func(c *fiber.Ctx) error {
		var req voteRequest
		if err := c.BodyParser(&req); err != nil {
			return fail(c, services.ValidationError("invalid request body"))
		}
		res, err := api.Ledger.CastVote(c.UserContext(), c.Params("id"), middleware.UserID(c), req.Choice)
		if err != nil {
			return fail(c, err)
		}
		message := "vote recorded"
		if res.Changed {
			message = "vote changed"
		}
		return respond(c, fiber.StatusOK, message, fiber.Map{
			"vote":  res,
			"tally": services.ComputeTally(res.VoteCountA, res.VoteCountB),
		})
	})

	contests.Post("/:id/views", func(c *fiber.Ctx) error {
		views, err := api.Store.RecordView(c.UserContext(), c.Params("id"))
		if err != nil {
			return fail(c, err)
		}
		return respond(c, fiber.StatusOK, "view recorded", fiber.Map{"views": views})
	})

	contests.Get("/:id/comments", func(c *fiber.Ctx) error {
		page := c.QueryInt("page", 1)
		limit := c.QueryInt("limit", services.DefaultPageLimit)
		comments, total, err := api.Store.ListComments(c.UserContext(), c.Params("id"), page, limit)
		if err != nil {
			return fail(c, err)
		}
		return respond(c, fiber.StatusOK, "comments", fiber.Map{
			"comments":   comments,
			"pagination": newPagination(page, limit, total),
		})
	})

	contests.Post("/:id/comments", middleware.RequireUser(), func(c *fiber.Ctx) error {
		var req commentRequest
		if err := c.BodyParser(&req); err != nil {
			return fail(c, services.ValidationError("invalid request body"))
		}
		comment, err := api.Store.AddComment(c.UserContext(), c.Params("id"), middleware.UserID(c), req.Text)
		if err != nil {
			return fail(c, err)
		}
		return respond(c, fiber.StatusCreated, "comment added", fiber.Map{"comment": comment})
	})

	// Admin state machine.
	transitions := map[string]func(*fiber.Ctx) (*models.Contest, error){
		"finalize": func(c *fiber.Ctx) (*models.Contest, error) {
			return api.Lifecycle.FinalizeContest(c.UserContext(), c.Params("id"))
		},
		"pause": func(c *fiber.Ctx) (*models.Contest, error) {
			return api.Lifecycle.Pause(c.UserContext(), c.Params("id"))
		},
		"resume": func(c *fiber.Ctx) (*models.Contest, error) {
			return api.Lifecycle.Resume(c.UserContext(), c.Params("id"))
		},
		"cancel": func(c *fiber.Ctx) (*models.Contest, error) {
			return api.Lifecycle.Cancel(c.UserContext(), c.Params("id"))
		},
	}
	for action, run := range transitions {
		run := run
		contests.Post("/:id/"+action, middleware.RequireAdmin(), func(c *fiber.Ctx) error {
			contest, err := run(c)
			if err != nil {
				return fail(c, err)
			}
			return respond(c, fiber.StatusOK, "contest "+string(contest.Status), fiber.Map{"contest": contest})
		})
	}
}

func listContests(c *fiber.Ctx, api ContestAPI, f services.ListFilter) error {
	ctx := c.UserContext()
	list, total, err := api.Store.ListContests(ctx, f)
	if err != nil {
		return respondError(c, err, api.ExposeErrors)
	}
	views, err := api.Store.DescribeContests(ctx, list)
	if err != nil {
		return respondError(c, err, api.ExposeErrors)
	}
	return respond(c, fiber.StatusOK, "contests", fiber.Map{
		"contests":   views,
		"pagination": newPagination(f.Page, f.Limit, total),
	})
}

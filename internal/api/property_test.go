package api

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestAPIProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("results never exceed the requested limit", prop.ForAll(
		func(runs, limit int) bool {
			handler, scheduler := setupTestAdminHandler(t)
			for i := 0; i < runs; i++ {
				scheduler.Trigger(context.Background(), "never", false)
			}

			w := serve(handler, http.MethodGet, fmt.Sprintf("/api/v1/results?limit=%d", limit), "")
			var resp ResultsResponse
			decode(t, w, &resp)

			want := runs
			if limit > 0 && limit < runs {
				want = limit
			}
			return resp.Count == want && len(resp.Results) == want
		},
		gen.IntRange(0, 15),
		gen.IntRange(0, 10),
	))

	properties.Property("unknown experiment names never start a run", prop.ForAll(
		func(name string) bool {
			if name == "hang" || name == "never" {
				return true
			}
			handler, scheduler := setupTestAdminHandler(t)
			w := serve(handler, http.MethodPost, "/api/v1/experiments/"+name+"/trigger?force=true", "")
			return w.Code == http.StatusNotFound && len(scheduler.ActiveRuns()) == 0
		},
		gen.Identifier(),
	))

	properties.TestingRun(t)
}

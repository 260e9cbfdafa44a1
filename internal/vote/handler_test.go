package vote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/SlpAus/mcbattle-ranking-backend/internal/mc"
	"github.com/SlpAus/mcbattle-ranking-backend/internal/user"
	"github.com/SlpAus/mcbattle-ranking-backend/pkg/token"
	"github.com/gin-gonic/gin"
	. "github.com/smartystreets/goconvey/convey"
)

type testServer struct {
	router  *gin.Engine
	service *Service
	issuer  *token.Issuer
}

func newTestServer(t *testing.T) *testServer {
	gin.SetMode(gin.TestMode)
	issuer, err := token.NewIssuer([]byte("handler-test-secret"), "mcbattle", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	s := NewService(openTestDB(t))
	r := gin.New()
	api := r.Group("/api", user.NewAuthenticator(issuer, nil, nil).LoadIdentityMiddleware())
	NewHandler(s, nil).RegisterRoutes(api, nil)
	return &testServer{router: r, service: s, issuer: issuer}
}

func (ts *testServer) do(method, path, userID, role, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		tok, _ := ts.issuer.Issue(userID, role)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

const allTwenty = `{"rhyme":20,"vibes":20,"flow":20,"dialogue":20,"musicality":20}`

func TestVoteHandlers(t *testing.T) {
	Convey("Given the ranking routes and one MC", t, func() {
		ts := newTestServer(t)
		m := createMC(t, ts.service, "GADORO")
		votePath := fmt.Sprintf("/api/rankings/%d/votes", m.ID)

		Convey("POST votes maps every outcome to a status", func() {
			So(ts.do(http.MethodPost, votePath, "", "", allTwenty).Code, ShouldEqual, http.StatusUnauthorized)

			w := ts.do(http.MethodPost, votePath, "u1", "", allTwenty)
			So(w.Code, ShouldEqual, http.StatusOK)
			var body map[string]any
			So(json.Unmarshal(w.Body.Bytes(), &body), ShouldBeNil)
			So(body["voteCount"], ShouldEqual, float64(1))
			So(body["rhymeScore"], ShouldAlmostEqual, 120.0/11.0, epsilon)

			So(ts.do(http.MethodPost, votePath, "u1", "", allTwenty).Code, ShouldEqual, http.StatusConflict)
			So(ts.do(http.MethodPost, "/api/rankings/999/votes", "u1", "", allTwenty).Code, ShouldEqual, http.StatusNotFound)
			So(ts.do(http.MethodPost, "/api/rankings/x/votes", "u1", "", allTwenty).Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("Malformed and out-of-range scores are 400", func() {
			for _, body := range []string{
				`{"rhyme":21,"vibes":20,"flow":20,"dialogue":20,"musicality":20}`,
				`{"rhyme":0,"vibes":20,"flow":20,"dialogue":20,"musicality":20}`,
				`{"rhyme":1.5,"vibes":20,"flow":20,"dialogue":20,"musicality":20}`,
				`{"rhyme":10,"vibes":20}`,
				`not json`,
			} {
				So(ts.do(http.MethodPost, votePath, "u2", "", body).Code, ShouldEqual, http.StatusBadRequest)
			}
		})

		Convey("GET rankings carries hasVoted for the viewer", func() {
			ts.do(http.MethodPost, votePath, "u1", "", allTwenty)

			w := ts.do(http.MethodGet, "/api/rankings?sortKey=rhyme&page=1&pageSize=5", "u1", "", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			var page RankingPage
			So(json.Unmarshal(w.Body.Bytes(), &page), ShouldBeNil)
			So(page.SortKey, ShouldEqual, mc.SortRhyme)
			So(len(page.Items), ShouldEqual, 1)
			So(page.Items[0].HasVoted, ShouldBeTrue)
			So(page.Items[0].Name, ShouldEqual, "GADORO")

			w = ts.do(http.MethodGet, "/api/rankings", "", "", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"hasVoted":false`)
		})

		Convey("GET rankings rejects bad parameters", func() {
			for _, q := range []string{"sortKey=hype", "page=abc", "page=-1", "pageSize=x"} {
				So(ts.do(http.MethodGet, "/api/rankings?"+q, "", "", "").Code, ShouldEqual, http.StatusBadRequest)
			}
		})

		Convey("GET my vote", func() {
			me := votePath + "/me"
			So(ts.do(http.MethodGet, me, "", "", "").Code, ShouldEqual, http.StatusUnauthorized)
			So(ts.do(http.MethodGet, me, "u1", "", "").Code, ShouldEqual, http.StatusNotFound)
			ts.do(http.MethodPost, votePath, "u1", "", allTwenty)
			w := ts.do(http.MethodGet, me, "u1", "", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"voterId":"u1"`)
		})

		Convey("Admin routes require the admin role", func() {
			ts.do(http.MethodPost, votePath, "u1", "", allTwenty)

			So(ts.do(http.MethodPost, "/api/rankings/reset", "", "", "").Code, ShouldEqual, http.StatusUnauthorized)
			So(ts.do(http.MethodPost, "/api/rankings/reset", "u1", "", "").Code, ShouldEqual, http.StatusForbidden)

			w := ts.do(http.MethodPost, "/api/rankings/reset", "root", token.RoleAdmin, "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"votesDeleted":1`)

			w = ts.do(http.MethodPost, "/api/rankings/rebuild", "root", token.RoleAdmin, "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"rebuilt":1`)

			w = ts.do(http.MethodGet, "/api/rankings/audit", "root", token.RoleAdmin, "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"resetCount":1`)

			// 重置后可以重新投票
			So(ts.do(http.MethodPost, votePath, "u1", "", allTwenty).Code, ShouldEqual, http.StatusOK)
		})
	})
}

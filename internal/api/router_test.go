package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tontine_system/internal/db"
	"tontine_system/internal/events"
	"tontine_system/internal/tontine"
)

const testSecret = "test-secret"

type harness struct {
	t      *testing.T
	router *gin.Engine
	pub    *events.MemoryPublisher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	database, err := db.OpenMemory()
	require.NoError(t, err)
	sqlDB, err := database.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	pub := &events.MemoryPublisher{}
	svc := tontine.NewService(database, tontine.WithPublisher(pub))
	r := gin.New()
	RegisterRoutes(r, database, svc, testSecret, time.Hour)
	return &harness{t: t, router: r, pub: pub}
}

func (h *harness) do(method, path, token string, body any) *httptest.ResponseRecorder {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

// signup registers and logs in a user, returning its id and token.
func (h *harness) signup(name string) (uint, string) {
	h.t.Helper()
	w := h.do(http.MethodPost, "/user", "", gin.H{"username": name, "email": name + "@example.com", "password": "password123"})
	require.Equal(h.t, http.StatusCreated, w.Code, w.Body.String())
	id := decode[struct {
		ID uint `json:"id"`
	}](h.t, w).ID

	w = h.do(http.MethodPost, "/user/login", "", gin.H{"username": name, "password": "password123"})
	require.Equal(h.t, http.StatusOK, w.Code, w.Body.String())
	return id, decode[AuthResponse](h.t, w).Token
}

type errorResponse struct {
	Error ErrorBody `json:"error"`
}

type memberResponse struct {
	ID            uint `json:"id"`
	UserID        uint `json:"user_id"`
	PriorityOrder int  `json:"priority_order"`
}

func TestAuthFlow(t *testing.T) {
	h := newHarness(t)
	h.signup("alice")

	w := h.do(http.MethodPost, "/user", "", gin.H{"username": "Alice", "email": "other@example.com", "password": "password123"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = h.do(http.MethodPost, "/user", "", gin.H{"username": "bob", "email": "bob@example.com", "password": "short"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(http.MethodPost, "/user/login", "", gin.H{"username": "alice", "password": "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = h.do(http.MethodGet, "/tontines", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = h.do(http.MethodGet, "/tontines", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestTontineLifecycleOverHTTP(t *testing.T) {
	h := newHarness(t)
	_, aliceToken := h.signup("alice")
	bobID, bobToken := h.signup("bob")
	_, carolToken := h.signup("carol")

	w := h.do(http.MethodPost, "/tontines", aliceToken, gin.H{
		"name":                "Friends",
		"type":                "friends",
		"contribution_amount": "100",
		"frequency":           "monthly",
		"duration_months":     4,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	tontineID := decode[struct {
		ID uint `json:"id"`
	}](t, w).ID
	base := fmt.Sprintf("/tontines/%d", tontineID)

	// carol is not part of the tontine yet
	w = h.do(http.MethodGet, base, carolToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = h.do(http.MethodPost, base+"/members", aliceToken, gin.H{"user_id": bobID})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	bob := decode[memberResponse](t, w)
	assert.Equal(t, 2, bob.PriorityOrder)

	w = h.do(http.MethodPost, base+"/members", bobToken, gin.H{"user_id": bobID})
	assert.Equal(t, http.StatusForbidden, w.Code, "only admins add members")

	w = h.do(http.MethodPost, base+"/invites", aliceToken, gin.H{"email": "carol@example.com"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	token := decode[struct {
		Token string `json:"token"`
	}](t, w).Token
	w = h.do(http.MethodPost, "/invites/"+token+"/accept", carolToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	carol := decode[memberResponse](t, w)
	w = h.do(http.MethodPost, "/invites/"+token+"/accept", carolToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, carol.ID, decode[memberResponse](t, w).ID)

	w = h.do(http.MethodGet, base+"/members", carolToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	members := decode[struct {
		Members []memberResponse `json:"members"`
	}](t, w).Members
	require.Len(t, members, 3)
	alice := members[0]

	pay := func(token string, memberID uint) *httptest.ResponseRecorder {
		return h.do(http.MethodPost, base+"/rounds/1/contributions", token, gin.H{"member_id": memberID, "amount": "100"})
	}
	require.Equal(t, http.StatusCreated, pay(aliceToken, alice.ID).Code)
	w = pay(aliceToken, alice.ID)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "DuplicatePaidContribution", decode[errorResponse](t, w).Error.Code)
	assert.Equal(t, "state_conflict", decode[errorResponse](t, w).Error.Kind)

	w = pay(bobToken, carol.ID)
	assert.Equal(t, http.StatusForbidden, w.Code, "members pay only for themselves")

	w = h.do(http.MethodGet, base+"/rounds/1", bobToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	status := decode[tontine.RoundStatus](t, w)
	assert.ElementsMatch(t, []uint{bob.ID, carol.ID}, status.OutstandingMembers)

	w = h.do(http.MethodPost, base+"/rounds/1/close", aliceToken, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "RoundNotFunded", decode[errorResponse](t, w).Error.Code)

	require.Equal(t, http.StatusCreated, pay(bobToken, bob.ID).Code)
	require.Equal(t, http.StatusCreated, pay(carolToken, carol.ID).Code)

	w = h.do(http.MethodGet, base+"/rounds", aliceToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	rounds := decode[struct {
		Rounds []struct {
			RoundNumber    int    `json:"round_number"`
			Status         string `json:"status"`
			PayoutMemberID *uint  `json:"payout_member_id"`
		} `json:"rounds"`
	}](t, w).Rounds
	require.Len(t, rounds, 2)
	assert.Equal(t, "closed", rounds[0].Status)
	assert.Equal(t, alice.ID, *rounds[0].PayoutMemberID)
	assert.Equal(t, "open", rounds[1].Status)

	w = h.do(http.MethodGet, base+"/payouts?member_id="+fmt.Sprint(alice.ID), bobToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(1), decode[struct {
		Total int64 `json:"total"`
	}](t, w).Total)

	w = h.do(http.MethodPost, base+"/rounds/1/reconcile", aliceToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[tontine.RoundReport](t, w).Inconsistencies)

	w = h.do(http.MethodPatch, base, aliceToken, gin.H{"contribution_amount": "150"})
	assert.Equal(t, http.StatusConflict, w.Code)
	w = h.do(http.MethodDelete, base, aliceToken, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = h.do(http.MethodGet, "/tontines?page_size=5", carolToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(1), decode[struct {
		Total int64 `json:"total"`
	}](t, w).Total)

	w = h.do(http.MethodGet, "/tontines/abc", aliceToken, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = h.do(http.MethodGet, "/tontines/999", aliceToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	assert.Len(t, h.pub.OfType("RoundClosed"), 1)
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusOf(tontine.KindValidation))
	assert.Equal(t, http.StatusNotFound, statusOf(tontine.KindNotFound))
	assert.Equal(t, http.StatusConflict, statusOf(tontine.KindStateConflict))
	assert.Equal(t, http.StatusForbidden, statusOf(tontine.KindAuthorization))
	assert.Equal(t, http.StatusInternalServerError, statusOf(tontine.KindLedgerInconsistent))
}

func TestMemberFromAnotherTontine(t *testing.T) {
	h := newHarness(t)
	_, aliceToken := h.signup("alice")
	_, bobToken := h.signup("bob")

	create := func(token, name string) string {
		w := h.do(http.MethodPost, "/tontines", token, gin.H{
			"name": name, "type": "family", "contribution_amount": "20", "frequency": "weekly", "duration_months": 1,
		})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		return fmt.Sprintf("/tontines/%d", decode[struct {
			ID uint `json:"id"`
		}](t, w).ID)
	}
	aliceBase := create(aliceToken, "Alice circle")
	bobBase := create(bobToken, "Bob circle")

	w := h.do(http.MethodGet, aliceBase+"/members", aliceToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	alice := decode[struct {
		Members []memberResponse `json:"members"`
	}](t, w).Members[0]

	w = h.do(http.MethodPost, bobBase+"/rounds/1/contributions", bobToken, gin.H{"member_id": alice.ID, "amount": "20"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = h.do(http.MethodPost, fmt.Sprintf("%s/members/%d/admin", bobBase, alice.ID), bobToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

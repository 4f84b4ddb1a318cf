package main_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/exec"
	"regexp"
	"syscall"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Yonatanhaile/tigray-marketplace/internal/models"
	"github.com/Yonatanhaile/tigray-marketplace/internal/utils"
)

const (
	testAppBinary     = "./marketplace_test_app"
	testAppPort       = "8089"
	testServicePort   = "8091"
	testAppURL        = "http://localhost:" + testAppPort
	testServiceURL    = "http://localhost:" + testServicePort
	testDbName        = "tigray_marketplace_itest"
	startupTimeout    = 15 * time.Second
	pingEndpoint      = testAppURL + "/v1/ping"
	testPassword      = "StrongP@ssw0rd123"
	integrationSecret = "integration-test-secret"
)

var mongoDb *mongo.Database

// TestMain builds the real binary, runs it in 'all' mode (API plus
// background worker in one process) against a throwaway database, and
// shuts it down through the service API once the suite finishes.
func TestMain(m *testing.M) {
	defer func() {
		log.Println("Integration teardown: removing test binary...")
		_ = os.Remove(testAppBinary)
	}()

	godotenv.Load()
	mongoURI := os.Getenv("MONGO_URI")
	if mongoURI == "" {
		mongoURI = "mongodb://localhost:27017"
	}
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	log.Println("Integration setup: building application...")
	buildCmd := exec.Command("go", "build", "-o", testAppBinary, ".")
	if out, err := buildCmd.CombinedOutput(); err != nil {
		log.Printf("Failed to build application: %v\nOutput:\n%s", err, string(out))
		os.Exit(1)
	}

	// Fresh database per run; tests seed what they need.
	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(mongoURI))
	if err != nil {
		log.Printf("Failed to connect to MongoDB: %v", err)
		os.Exit(1)
	}
	defer mongoClient.Disconnect(context.Background())
	mongoDb = mongoClient.Database(testDbName)
	if err := mongoDb.Drop(context.Background()); err != nil {
		log.Printf("Failed to drop test database: %v", err)
		os.Exit(1)
	}

	appCmd := exec.Command(testAppBinary, "-m", "all")
	appCmd.Env = append(os.Environ(),
		"MONGO_URI="+mongoURI,
		"MONGO_DB_NAME="+testDbName,
		"REDIS_ADDR="+redisAddr,
		"API_PORT="+testAppPort,
		"SERVICE_API_PORT="+testServicePort,
		"JWT_SECRET="+integrationSecret,
		"GIN_MODE=release",
		"MOCK_SERVICES=true",
		"SMTP_FROM_ADDRESS=test@example.com",
		// Generous limits so a fast test run never trips the limiter.
		"RATE_LIMIT_BUCKET_SIZE=500",
		"RATE_LIMIT_REFILL_RATE=200",
	)
	appCmd.Stdout = os.Stdout
	appCmd.Stderr = os.Stderr

	log.Println("Integration setup: starting application process...")
	if err := appCmd.Start(); err != nil {
		log.Printf("Failed to start application: %v", err)
		os.Exit(1)
	}
	log.Printf("Integration setup: application started (PID: %d)", appCmd.Process.Pid)

	defer func() {
		log.Println("Integration teardown: requesting shutdown via service API...")
		body := bytes.NewReader([]byte(`{"method": "shutdown"}`))
		resp, err := http.Post(testServiceURL+"/api", "application/json", body)
		if err != nil {
			log.Printf("Shutdown request failed (%v), sending SIGTERM", err)
			_ = appCmd.Process.Signal(syscall.SIGTERM)
		} else {
			resp.Body.Close()
		}

		done := make(chan error, 1)
		go func() { done <- appCmd.Wait() }()
		select {
		case <-done:
			log.Println("Integration teardown: application exited.")
		case <-time.After(10 * time.Second):
			log.Println("Integration teardown: application did not exit in time, killing.")
			_ = appCmd.Process.Kill()
		}
	}()

	log.Printf("Integration setup: waiting for %s ...", pingEndpoint)
	ready := false
	for start := time.Now(); time.Since(start) < startupTimeout; {
		resp, err := http.Get(pingEndpoint)
		if err == nil {
			b, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK && string(b) == "pong" {
				ready = true
				break
			}
		}
		time.Sleep(200 * time.Millisecond)
	}
	if !ready {
		log.Printf("Application failed to become ready within %v", startupTimeout)
		return
	}

	log.Println("Integration setup: running tests...")
	m.Run()
}

// doRequest performs an authenticated JSON request against the running
// server and decodes the response body.
func doRequest(t *testing.T, method, path, token string, body interface{}) (int, map[string]interface{}) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, testAppURL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded), "body: %s", string(raw))
	return resp.StatusCode, decoded
}

type testUser struct {
	ID       string
	Email    string
	Token    string
	Password string
}

// registerUser creates a fresh account over HTTP and returns its
// identity plus a valid JWT.
func registerUser(t *testing.T, slug string, roles ...string) testUser {
	t.Helper()
	email := fmt.Sprintf("it_%s_%d@example.com", slug, time.Now().UnixNano())
	if len(roles) == 0 {
		roles = []string{"buyer", "seller"}
	}

	status, resp := doRequest(t, http.MethodPost, "/v1/auth/register", "", map[string]interface{}{
		"name":     "Test " + slug,
		"email":    email,
		"password": testPassword,
		"roles":    roles,
	})
	require.Equal(t, http.StatusCreated, status, "register response: %v", resp)
	user := resp["user"].(map[string]interface{})

	return testUser{
		ID:       user["id"].(string),
		Email:    email,
		Token:    resp["token"].(string),
		Password: testPassword,
	}
}

// login re-authenticates and returns a fresh token. Used after role
// changes made directly in the database.
func login(t *testing.T, email, password string) string {
	t.Helper()
	status, resp := doRequest(t, http.MethodPost, "/v1/auth/login", "", map[string]interface{}{
		"email":    email,
		"password": password,
	})
	require.Equal(t, http.StatusOK, status, "login response: %v", resp)
	return resp["token"].(string)
}

// promoteToAdmin flips roles in the database and returns a token that
// carries the admin claim. There is no public endpoint for this.
func promoteToAdmin(t *testing.T, u testUser) string {
	t.Helper()
	id, err := utils.ParseSixID(u.ID)
	require.NoError(t, err)
	_, err = mongoDb.Collection("users").UpdateOne(context.Background(),
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"roles": []models.Role{models.RoleAdmin}}})
	require.NoError(t, err)
	return login(t, u.Email, u.Password)
}

// seedListing inserts an active listing for the seller directly into
// the catalog collection, standing in for the external catalog service.
func seedListing(t *testing.T, sellerID string) string {
	t.Helper()
	sid, err := utils.ParseSixID(sellerID)
	require.NoError(t, err)

	listing := &models.Listing{
		SellerID:       sid,
		Title:          "Hand-woven gabi",
		Description:    "Traditional cotton blanket from Adwa",
		Price:          1500,
		Currency:       "ETB",
		PaymentMethods: []string{"telebirr", "cash_on_meetup"},
		Status:         models.ListingStatusActive,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
	listing.GenID()
	_, err = mongoDb.Collection("listings").InsertOne(context.Background(), listing)
	require.NoError(t, err)
	return listing.ID.String()
}

// createOrder places an order for the listing as the buyer and returns
// the order ID.
func createOrder(t *testing.T, buyer testUser, listingID string) string {
	t.Helper()
	status, resp := doRequest(t, http.MethodPost, "/v1/orders", buyer.Token, map[string]interface{}{
		"listing_id":     listingID,
		"payment_method": "telebirr",
		"note":           "Please wrap it as a gift",
	})
	require.Equal(t, http.StatusCreated, status, "create order response: %v", resp)
	order := resp["order"].(map[string]interface{})
	require.Equal(t, "requested", order["status"])
	return order["id"].(string)
}

// advanceOrder PATCHes a status change and asserts it succeeded.
func advanceOrder(t *testing.T, token, orderID, next string) map[string]interface{} {
	t.Helper()
	status, resp := doRequest(t, http.MethodPatch, "/v1/orders/"+orderID, token, map[string]interface{}{
		"status": next,
	})
	require.Equal(t, http.StatusOK, status, "transition to %s: %v", next, resp)
	order := resp["order"].(map[string]interface{})
	require.Equal(t, next, order["status"])
	return order
}

func TestIntegration_Ping(t *testing.T) {
	resp, err := http.Get(pingEndpoint)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(body))
}

func TestIntegration_AuthFlow(t *testing.T) {
	user := registerUser(t, "auth")
	assert.NotEmpty(t, user.ID)
	assert.NotEmpty(t, user.Token)

	// Duplicate registration is rejected.
	status, resp := doRequest(t, http.MethodPost, "/v1/auth/register", "", map[string]interface{}{
		"name":     "Dup",
		"email":    user.Email,
		"password": testPassword,
	})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, true, resp["error"])

	// Login round trip.
	token := login(t, user.Email, user.Password)
	assert.NotEmpty(t, token)

	// Wrong password and protected routes without a token.
	status, _ = doRequest(t, http.MethodPost, "/v1/auth/login", "", map[string]interface{}{
		"email":    user.Email,
		"password": "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = doRequest(t, http.MethodGet, "/v1/orders/my-orders", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestIntegration_OrderLifecycle(t *testing.T) {
	seller := registerUser(t, "ol_seller", "seller")
	buyer := registerUser(t, "ol_buyer", "buyer")
	stranger := registerUser(t, "ol_stranger")
	listingID := seedListing(t, seller.ID)

	orderID := createOrder(t, buyer, listingID)

	// Strangers cannot see the order.
	status, _ := doRequest(t, http.MethodGet, "/v1/orders/"+orderID, stranger.Token, nil)
	assert.Equal(t, http.StatusForbidden, status)

	// The buyer cannot move the order forward.
	status, _ = doRequest(t, http.MethodPatch, "/v1/orders/"+orderID, buyer.Token, map[string]interface{}{
		"status": "seller_confirmed",
	})
	assert.Equal(t, http.StatusUnauthorized, status)

	// A made-up status is rejected outright.
	status, _ = doRequest(t, http.MethodPatch, "/v1/orders/"+orderID, seller.Token, map[string]interface{}{
		"status": "refunded",
	})
	assert.Equal(t, http.StatusBadRequest, status)

	// Full meetup flow, driven by the seller.
	advanceOrder(t, seller.Token, orderID, "seller_confirmed")
	advanceOrder(t, seller.Token, orderID, "awaiting_payment_confirmation")

	// Buyer attaches payment evidence along the way.
	status, resp := doRequest(t, http.MethodPatch, "/v1/orders/"+orderID, buyer.Token, map[string]interface{}{
		"payment_evidence_url": "https://files.example.com/receipts/tx-99.png",
	})
	require.Equal(t, http.StatusOK, status, "payment evidence: %v", resp)

	advanceOrder(t, seller.Token, orderID, "paid_offsite")
	advanceOrder(t, seller.Token, orderID, "collected")
	order := advanceOrder(t, seller.Token, orderID, "delivered")

	history := order["status_history"].([]interface{})
	assert.Len(t, history, 6, "initial entry plus five transitions")

	// Terminal orders are frozen.
	status, _ = doRequest(t, http.MethodPatch, "/v1/orders/"+orderID, seller.Token, map[string]interface{}{
		"status": "cancelled",
	})
	assert.Equal(t, http.StatusConflict, status)

	// Both parties see it in their listings.
	status, resp = doRequest(t, http.MethodGet, "/v1/orders/my-orders?role=buyer&status=delivered", buyer.Token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.GreaterOrEqual(t, int(resp["total"].(float64)), 1)
}

func TestIntegration_Messaging(t *testing.T) {
	seller := registerUser(t, "msg_seller", "seller")
	buyer := registerUser(t, "msg_buyer", "buyer")
	listingID := seedListing(t, seller.ID)
	orderID := createOrder(t, buyer, listingID)

	status, resp := doRequest(t, http.MethodPost, "/v1/messages", buyer.Token, map[string]interface{}{
		"order_id": orderID,
		"text":     "Is Saturday at the Romanat stalls okay?",
	})
	require.Equal(t, http.StatusCreated, status, "send message: %v", resp)
	message := resp["message"].(map[string]interface{})
	assert.Equal(t, seller.ID, message["recipient_id"], "recipient derives from the order, not the request")

	// One unread for the seller until the thread is viewed.
	status, resp = doRequest(t, http.MethodGet, "/v1/messages/unread-count", seller.Token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), resp["unread_count"])

	status, resp = doRequest(t, http.MethodGet, "/v1/messages/order/"+orderID, seller.Token, nil)
	require.Equal(t, http.StatusOK, status, "list messages: %v", resp)
	messages := resp["messages"].([]interface{})
	require.Len(t, messages, 1)

	// Viewing the thread marked it read.
	status, resp = doRequest(t, http.MethodGet, "/v1/messages/unread-count", seller.Token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(0), resp["unread_count"])

	// Outsiders get nothing.
	stranger := registerUser(t, "msg_stranger")
	status, _ = doRequest(t, http.MethodGet, "/v1/messages/order/"+orderID, stranger.Token, nil)
	assert.Equal(t, http.StatusForbidden, status)
}

func TestIntegration_DisputeFlow(t *testing.T) {
	seller := registerUser(t, "dsp_seller", "seller")
	buyer := registerUser(t, "dsp_buyer", "buyer")
	admin := registerUser(t, "dsp_admin")
	adminToken := promoteToAdmin(t, admin)

	listingID := seedListing(t, seller.ID)
	orderID := createOrder(t, buyer, listingID)
	advanceOrder(t, seller.Token, orderID, "seller_confirmed")
	advanceOrder(t, seller.Token, orderID, "awaiting_payment_confirmation")
	advanceOrder(t, seller.Token, orderID, "paid_offsite")

	status, resp := doRequest(t, http.MethodPost, "/v1/disputes", buyer.Token, map[string]interface{}{
		"order_id": orderID,
		"reason":   "Seller is not responding after payment",
		"category": "item_not_received",
	})
	require.Equal(t, http.StatusCreated, status, "file dispute: %v", resp)
	dispute := resp["dispute"].(map[string]interface{})
	disputeID := dispute["id"].(string)

	// Filing froze the order.
	status, resp = doRequest(t, http.MethodGet, "/v1/orders/"+orderID, buyer.Token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "disputed", resp["order"].(map[string]interface{})["status"])

	// A second active dispute is rejected and points at the first.
	status, resp = doRequest(t, http.MethodPost, "/v1/disputes", seller.Token, map[string]interface{}{
		"order_id": orderID,
		"reason":   "Buyer paid the wrong amount",
		"category": "payment_not_received",
	})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, disputeID, resp["dispute_id"])

	// Only admins decide.
	status, _ = doRequest(t, http.MethodPatch, "/v1/admin/disputes/"+disputeID, buyer.Token, map[string]interface{}{
		"status": "resolved",
	})
	assert.Equal(t, http.StatusForbidden, status)

	// Reopen the order as the resolution outcome.
	status, resp = doRequest(t, http.MethodPatch, "/v1/admin/disputes/"+disputeID, adminToken, map[string]interface{}{
		"status":      "resolved",
		"admin_notes": "Parties agreed on a new pickup date",
		"resolution":  "Order continues as paid",
		"outcome":     "reopen_order",
	})
	require.Equal(t, http.StatusOK, status, "resolve dispute: %v", resp)
	assert.Equal(t, "resolved", resp["dispute"].(map[string]interface{})["status"])

	status, resp = doRequest(t, http.MethodGet, "/v1/orders/"+orderID, buyer.Token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "paid_offsite", resp["order"].(map[string]interface{})["status"])
}

func TestIntegration_InvoicePipeline(t *testing.T) {
	seller := registerUser(t, "inv_seller", "seller")
	buyer := registerUser(t, "inv_buyer", "buyer")
	listingID := seedListing(t, seller.ID)
	orderID := createOrder(t, buyer, listingID)
	advanceOrder(t, seller.Token, orderID, "seller_confirmed")

	// Buyers cannot issue invoices.
	status, _ := doRequest(t, http.MethodPost, "/v1/orders/"+orderID+"/invoice", buyer.Token, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, resp := doRequest(t, http.MethodPost, "/v1/orders/"+orderID+"/invoice", seller.Token, nil)
	require.Equal(t, http.StatusAccepted, status, "request invoice: %v", resp)
	invoice := resp["invoice"].(map[string]interface{})
	number := invoice["invoice_number"].(string)
	assert.Regexp(t, regexp.MustCompile(`^INV-\d{4}-\d{6}$`), number)

	// Both parties can read the invoice record.
	status, resp = doRequest(t, http.MethodGet, "/v1/orders/"+orderID+"/invoice", buyer.Token, nil)
	require.Equal(t, http.StatusOK, status, "get invoice: %v", resp)
	assert.Equal(t, number, resp["invoice"].(map[string]interface{})["invoice_number"])

	// Re-requesting before completion issues a fresh, higher number.
	status, resp = doRequest(t, http.MethodPost, "/v1/orders/"+orderID+"/invoice", seller.Token, nil)
	require.Equal(t, http.StatusAccepted, status, "second invoice: %v", resp)
	second := resp["invoice"].(map[string]interface{})["invoice_number"].(string)
	assert.Greater(t, second, number)

	// Outsiders see nothing.
	stranger := registerUser(t, "inv_stranger")
	status, _ = doRequest(t, http.MethodGet, "/v1/orders/"+orderID+"/invoice", stranger.Token, nil)
	assert.Equal(t, http.StatusForbidden, status)
}

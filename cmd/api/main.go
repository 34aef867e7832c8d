package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nemonet1337/zaikoLedger/internal/config"
	"github.com/nemonet1337/zaikoLedger/pkg/ledger"
	"github.com/nemonet1337/zaikoLedger/pkg/ledger/storage"
)

func main() {
	// 設定読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("設定読み込みに失敗しました:", err)
	}

	// ログ設定
	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		log.Fatal("ログ初期化に失敗しました:", err)
	}
	defer logger.Sync()

	// データベース接続
	store, err := storage.NewPostgresStore(cfg.DSN(), logger)
	if err != nil {
		logger.Fatal("データベース接続に失敗しました", zap.Error(err))
	}
	defer store.Close()

	// 台帳サービス初期化
	ledgerConfig := &ledger.Config{
		ReferencePrefix:     cfg.Ledger.ReferencePrefix,
		MaxReferenceRetries: cfg.Ledger.MaxReferenceRetries,
		ExpiryWindowDays:    cfg.Ledger.ExpiryWindowDays,
	}
	service := ledger.NewService(store, nil, logger, ledgerConfig)

	// アラートエンジン初期化。移動のたびに対象キーを再評価し、
	// 期限系の条件は定期スイープが拾う
	engine := ledger.NewAlertEngine(store, nil, logger, cfg.Ledger.ExpiryWindowDays)
	service.SetEvaluator(engine)

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go engine.Run(sweepCtx, cfg.Ledger.SweepInterval)

	// HTTPハンドラー設定
	handlers := NewHandlers(service, engine, store, logger)
	router := setupRouter(handlers, cfg.API)

	// HTTPサーバー設定
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.API.Port),
		Handler:      router,
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
		IdleTimeout:  cfg.API.IdleTimeout,
	}

	// グレースフルシャットダウン設定
	go func() {
		logger.Info("在庫台帳APIサーバーを開始します", zap.Int("port", cfg.API.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("サーバー開始に失敗しました", zap.Error(err))
		}
	}()

	// シャットダウンシグナル待機
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("サーバーをシャットダウンしています...")
	stopSweep()

	// グレースフルシャットダウン
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("サーバーシャットダウンに失敗しました", zap.Error(err))
	}

	logger.Info("サーバーが正常に停止しました")
}

// buildLogger builds a zap logger from the logging configuration
// ログ設定からzapロガーを構築
func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("無効なログレベル: %w", err)
	}

	zapConfig := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zapConfig = zap.NewDevelopmentConfig()
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)
	return zapConfig.Build()
}

// setupRouter sets up HTTP routes
// HTTPルートを設定
func setupRouter(handlers *Handlers, apiCfg config.APIConfig) *mux.Router {
	router := mux.NewRouter()

	// ヘルスチェック
	router.HandleFunc("/health", handlers.HealthCheck).Methods("GET")
	if apiCfg.EnableMetrics {
		router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	}

	// API v1ルート
	api := router.PathPrefix("/api/v1").Subrouter()

	// 台帳操作
	api.HandleFunc("/movements", handlers.RecordMovement).Methods("POST")
	api.HandleFunc("/movements", handlers.ListMovements).Methods("GET")

	// 在庫照会
	api.HandleFunc("/inventory", handlers.ListInventory).Methods("GET")
	api.HandleFunc("/inventory/{productId}/{warehouseId}", handlers.GetInventory).Methods("GET")

	// 予約管理
	api.HandleFunc("/inventory/reserve", handlers.ReserveStock).Methods("POST")
	api.HandleFunc("/inventory/release-reservation", handlers.ReleaseReservation).Methods("POST")

	// 受発注アダプタ
	api.HandleFunc("/orders/purchase/receive", handlers.ApplyPurchaseReceipt).Methods("POST")
	api.HandleFunc("/orders/sales/ship", handlers.ApplySalesShipment).Methods("POST")

	// アラート
	api.HandleFunc("/alerts", handlers.GetAlerts).Methods("GET")
	api.HandleFunc("/alerts/{alertId}/acknowledge", handlers.AcknowledgeAlert).Methods("POST")
	api.HandleFunc("/alerts/{alertId}/resolve", handlers.ResolveAlert).Methods("POST")

	// マスタデータ管理
	api.HandleFunc("/products", handlers.CreateProduct).Methods("POST")
	api.HandleFunc("/products/{productId}", handlers.GetProduct).Methods("GET")
	api.HandleFunc("/warehouses", handlers.CreateWarehouse).Methods("POST")
	api.HandleFunc("/warehouses/{warehouseId}", handlers.GetWarehouse).Methods("GET")
	api.HandleFunc("/locations", handlers.CreateLocation).Methods("POST")
	api.HandleFunc("/locations/{locationId}", handlers.GetLocation).Methods("GET")

	// CORS設定（開発用）
	if apiCfg.EnableCORS {
		router.Use(corsMiddleware)
	}

	// ログ機能
	router.Use(loggingMiddleware(handlers.logger))

	return router
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
// HTTPリクエストをログ出力するミドルウェア
func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// リクエスト処理
			next.ServeHTTP(w, r)

			// ログ出力
			logger.Info("HTTPリクエスト",
				zap.String("method", r.Method),
				zap.String("url", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

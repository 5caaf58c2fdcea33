package routes

import (
	"github.com/gin-gonic/gin"

	"vaultcore/internal/handlers"
)

// SetupWalletRoutes sets up all routes related to wallet custody,
// transfers, and signing.
func SetupWalletRoutes(r *gin.Engine, deps *handlers.Deps) {
	wallets := r.Group("/wallets")
	{
		wallets.POST("", handlers.CreateWallet(deps))
		wallets.GET("", handlers.ListWallets(deps))
		wallets.GET("/:agent_id/balance", handlers.QueryBalance(deps))
		wallets.POST("/import/private-key", handlers.ImportPrivateKey(deps))
		wallets.POST("/import/keystore", handlers.ImportKeystore(deps))
		wallets.POST("/transfer/simulate", handlers.SimulateTransfer(deps))
		wallets.POST("/transfer", handlers.ExecuteTransfer(deps))
		wallets.POST("/sign-message", handlers.SignMessage(deps))
		wallets.POST("/verify-message", handlers.VerifyMessage(deps))
		wallets.POST("/sign-typed-data", handlers.SignTypedData(deps))
		wallets.POST("/verify-typed-data", handlers.VerifyTypedData(deps))
		wallets.POST("/export/keystore", handlers.ExportKeystore(deps))
		wallets.POST("/export/private-key", handlers.ExportPrivateKey(deps))
	}

	r.GET("/provider-status", handlers.ProviderStatus(deps))
	r.GET("/contracts/:address", handlers.InspectContract(deps))
}

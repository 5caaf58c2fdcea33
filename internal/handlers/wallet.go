package handlers

import (
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/gin-gonic/gin"

	"vaultcore/internal/policy"
	"vaultcore/pkg/keystore"
	"vaultcore/pkg/wallet"
)

type createWalletRequest struct {
	AgentID string `json:"agent_id" binding:"required"`
}

// CreateWallet handles POST /wallets.
func CreateWallet(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createWalletRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		runTool(c, deps, "create_wallet", req, func() (gin.H, error) {
			address, err := deps.Wallet.CreateWallet(req.AgentID)
			if err != nil {
				return nil, err
			}
			return gin.H{"agent_id": req.AgentID, "address": address}, nil
		})
	}
}

type importPrivateKeyRequest struct {
	AgentID    string `json:"agent_id" binding:"required"`
	PrivateKey string `json:"private_key" binding:"required"`
}

// ImportPrivateKey handles POST /wallets/import/private-key.
func ImportPrivateKey(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req importPrivateKeyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		runTool(c, deps, "import_wallet_privkey", gin.H{"agent_id": req.AgentID}, func() (gin.H, error) {
			address, err := deps.Wallet.ImportFromPrivateKey(req.AgentID, req.PrivateKey)
			if err != nil {
				return nil, err
			}
			return gin.H{"agent_id": req.AgentID, "address": address}, nil
		})
	}
}

type importKeystoreRequest struct {
	AgentID       string `json:"agent_id" binding:"required"`
	EncryptedJSON string `json:"encrypted_json" binding:"required"`
	Passphrase    string `json:"passphrase" binding:"required"`
}

// ImportKeystore handles POST /wallets/import/keystore.
func ImportKeystore(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req importKeystoreRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		runTool(c, deps, "import_wallet_keystore", gin.H{"agent_id": req.AgentID}, func() (gin.H, error) {
			address, err := deps.Wallet.ImportFromKeystoreJSON(req.AgentID, req.EncryptedJSON, req.Passphrase)
			if err != nil {
				return nil, err
			}
			return gin.H{"agent_id": req.AgentID, "address": address}, nil
		})
	}
}

// ListWallets handles GET /wallets.
func ListWallets(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		runTool(c, deps, "list_wallets", nil, func() ([]keystore.Record, error) {
			return deps.Wallet.ListWallets()
		})
	}
}

// QueryBalance handles GET /wallets/:agent_id/balance.
func QueryBalance(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		agentID := c.Param("agent_id")
		runTool(c, deps, "query_balance", gin.H{"agent_id": agentID}, func() (gin.H, error) {
			balance, err := deps.Wallet.QueryBalance(c.Request.Context(), agentID)
			if err != nil {
				return nil, err
			}
			return gin.H{"agent_id": agentID, "balance_wei": balance.String()}, nil
		})
	}
}

type transferRequest struct {
	AgentID          string `json:"agent_id" binding:"required"`
	ToAddress        string `json:"to_address" binding:"required"`
	AmountWei        string `json:"amount_wei" binding:"required"`
	ConfirmationCode string `json:"confirmation_code"`
	DryRun           bool   `json:"dry_run"`
}

func parseAmount(s string) (*big.Int, bool) {
	return new(big.Int).SetString(s, 10)
}

// SimulateTransfer handles POST /wallets/transfer/simulate.
func SimulateTransfer(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req transferRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		amount, ok := parseAmount(req.AmountWei)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "amount_wei must be a base-10 integer"})
			return
		}
		runTool(c, deps, "simulate_transfer", gin.H{"agent_id": req.AgentID, "to": req.ToAddress}, func() (*wallet.TransferPlan, error) {
			return deps.Wallet.SimulateTransfer(c.Request.Context(), req.AgentID, req.ToAddress, amount)
		})
	}
}

// ExecuteTransfer handles POST /wallets/transfer. dry_run prices and
// validates the transfer exactly as a real send would, then returns
// the simulation payload without signing, broadcasting, or advancing
// the nonce.
func ExecuteTransfer(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req transferRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		amount, ok := parseAmount(req.AmountWei)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "amount_wei must be a base-10 integer"})
			return
		}
		runTool(c, deps, "execute_transfer", gin.H{"agent_id": req.AgentID, "to": req.ToAddress, "dry_run": req.DryRun}, func() (*wallet.TransferResult, error) {
			return deps.Wallet.ExecuteTransfer(c.Request.Context(), req.AgentID, req.ToAddress, amount, req.ConfirmationCode, req.DryRun)
		})
	}
}

type signMessageRequest struct {
	AgentID string `json:"agent_id" binding:"required"`
	Message string `json:"message" binding:"required"`
}

// SignMessage handles POST /wallets/sign-message.
func SignMessage(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req signMessageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		runTool(c, deps, "sign_message", gin.H{"agent_id": req.AgentID}, func() (*wallet.SignatureResult, error) {
			return deps.Wallet.SignMessage(req.AgentID, req.Message)
		})
	}
}

type verifyMessageRequest struct {
	Address   string `json:"address" binding:"required"`
	Message   string `json:"message" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

// VerifyMessage handles POST /wallets/verify-message.
func VerifyMessage(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req verifyMessageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		runTool(c, deps, "verify_message", gin.H{"address": req.Address}, func() (*wallet.VerifyResult, error) {
			return wallet.VerifyMessage(req.Address, req.Message, req.Signature)
		})
	}
}

type signTypedDataRequest struct {
	AgentID   string             `json:"agent_id" binding:"required"`
	TypedData apitypes.TypedData `json:"typed_data" binding:"required"`
}

// SignTypedData handles POST /wallets/sign-typed-data.
func SignTypedData(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req signTypedDataRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		runTool(c, deps, "sign_typed_data", gin.H{"agent_id": req.AgentID}, func() (*wallet.SignatureResult, error) {
			return deps.Wallet.SignTypedData(req.AgentID, req.TypedData)
		})
	}
}

type verifyTypedDataRequest struct {
	Address   string             `json:"address" binding:"required"`
	TypedData apitypes.TypedData `json:"typed_data" binding:"required"`
	Signature string             `json:"signature" binding:"required"`
}

// VerifyTypedData handles POST /wallets/verify-typed-data.
func VerifyTypedData(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req verifyTypedDataRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		runTool(c, deps, "verify_typed_data", gin.H{"address": req.Address}, func() (*wallet.VerifyResult, error) {
			return wallet.VerifyTypedData(req.Address, req.TypedData, req.Signature)
		})
	}
}

type exportKeystoreRequest struct {
	AgentID    string `json:"agent_id" binding:"required"`
	Passphrase string `json:"passphrase" binding:"required"`
}

// ExportKeystore handles POST /wallets/export/keystore.
func ExportKeystore(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req exportKeystoreRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		runTool(c, deps, "export_keystore", gin.H{"agent_id": req.AgentID}, func() (gin.H, error) {
			blob, err := deps.Wallet.ExportKeystore(req.AgentID, req.Passphrase)
			if err != nil {
				return nil, err
			}
			return gin.H{"keystore_json": blob}, nil
		})
	}
}

type exportPrivateKeyRequest struct {
	AgentID          string `json:"agent_id" binding:"required"`
	ConfirmationCode string `json:"confirmation_code"`
}

// ExportPrivateKey handles POST /wallets/export/private-key. Gated —
// an unauthorized caller receives export_denied whether or not the
// agent exists.
func ExportPrivateKey(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req exportPrivateKeyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		runToolRedacted(c, deps, "export_private_key", gin.H{"agent_id": req.AgentID}, func() (gin.H, error) {
			key, err := deps.Wallet.ExportPrivateKey(req.AgentID, req.ConfirmationCode)
			if err != nil {
				return nil, err
			}
			return gin.H{"private_key": key}, nil
		}, func(gin.H) any {
			return gin.H{"private_key": policy.RedactedMarker}
		})
	}
}

// ProviderStatus handles GET /provider-status.
func ProviderStatus(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		runTool(c, deps, "provider_status", nil, func() (*wallet.ProviderStatus, error) {
			return deps.Wallet.ProviderStatus(c.Request.Context())
		})
	}
}

// InspectContract handles GET /contracts/:address.
func InspectContract(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		address := c.Param("address")
		runTool(c, deps, "inspect_contract", gin.H{"address": address}, func() (*wallet.ContractInspection, error) {
			return deps.Wallet.InspectContract(c.Request.Context(), address)
		})
	}
}

package wallet

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/fedivault/guardian/internal/types"
)

// RegisterRoutes exposes the module's read-only queries. No mutating route
// exists; state changes only happen through consensus item processing.
func (w *Wallet) RegisterRoutes(r gin.IRouter) {
	r.GET("/block_count", w.handleBlockCount)
	r.GET("/feerate", w.handleFeerate)
	r.GET("/federation_wallet", w.handleFederationWallet)
	r.GET("/send_fee", w.handleSendFee)
	r.GET("/receive_fee", w.handleReceiveFee)
	r.GET("/transaction_id", w.handleTransactionId)
	r.GET("/deposits", w.handleDeposits)
	r.GET("/pending_transaction_chain", w.handlePendingTransactionChain)
	r.GET("/transaction_chain", w.handleTransactionChain)
}

func (w *Wallet) handleBlockCount(c *gin.Context) {
	count, err := w.ConsensusBlockCount(w.dm.GetWalletDB())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"block_count": count})
}

func (w *Wallet) handleFeerate(c *gin.Context) {
	feerate, err := w.ConsensusFeerate(w.dm.GetWalletDB())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"feerate": feerate})
}

func (w *Wallet) handleFederationWallet(c *gin.Context) {
	info, err := w.FederationWalletInfo(w.dm.GetWalletDB())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"federation_wallet": info})
}

func (w *Wallet) handleSendFee(c *gin.Context) {
	fee, err := w.SendFee(w.dm.GetWalletDB())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"fee": fee})
}

func (w *Wallet) handleReceiveFee(c *gin.Context) {
	fee, err := w.ReceiveFee(w.dm.GetWalletDB())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"fee": fee})
}

func (w *Wallet) handleTransactionId(c *gin.Context) {
	out, err := strconv.ParseUint(c.Query("out"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid outpoint"})
		return
	}

	outpoint := types.OutPoint{Txid: c.Query("txid"), Out: uint32(out)}

	txid, err := w.TransactionId(w.dm.GetWalletDB(), outpoint)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"txid": txid})
}

func (w *Wallet) handleDeposits(c *gin.Context) {
	start, err := strconv.ParseUint(c.DefaultQuery("start", "0"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start index"})
		return
	}

	end, err := strconv.ParseUint(c.Query("end"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end index"})
		return
	}

	deposits, spent, err := w.DepositRange(w.dm.GetWalletDB(), start, end)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"deposits": deposits, "spent": spent})
}

func (w *Wallet) handlePendingTransactionChain(c *gin.Context) {
	infos, err := w.PendingTransactionChain(w.dm.GetWalletDB())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"transactions": infos})
}

func (w *Wallet) handleTransactionChain(c *gin.Context) {
	n, err := strconv.Atoi(c.DefaultQuery("n", "10"))
	if err != nil || n < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid transaction count"})
		return
	}

	infos, err := w.LastTransactionChain(w.dm.GetWalletDB(), n)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"transactions": infos})
}

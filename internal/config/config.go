package config

import (
	"encoding/hex"
	"os"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

var AppConfig Config

func InitConfig() {
	viper.AutomaticEnv()

	// Default config
	viper.SetDefault("HTTP_PORT", "8080")
	viper.SetDefault("BTC_RPC", "http://localhost:8332")
	viper.SetDefault("BTC_RPC_USER", "")
	viper.SetDefault("BTC_RPC_PASS", "")
	viper.SetDefault("BTC_NETWORK_TYPE", "")
	viper.SetDefault("BTC_POLL_INTERVAL", "10s")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("DB_DIR", "/app/db")
	viper.SetDefault("GUARDIAN_ID", 0)
	viper.SetDefault("GUARDIAN_PUBKEYS", "")
	viper.SetDefault("GUARDIAN_PRIVATE_KEY", "")
	viper.SetDefault("FEE_PPM", 0)
	viper.SetDefault("DUST_LIMIT", 10_000)
	viper.SetDefault("MIN_FEERATE", 1000)
	viper.SetDefault("BROADCAST_INTERVAL", "60s")

	logLevel, err := logrus.ParseLevel(strings.ToLower(viper.GetString("LOG_LEVEL")))
	if err != nil {
		logrus.Fatalf("Invalid log level: %v", err)
	}

	guardianPks, err := parseGuardianPubKeys(viper.GetString("GUARDIAN_PUBKEYS"))
	if err != nil {
		logrus.Fatalf("Failed to parse guardian public keys: %v", err)
	}

	guardianSk, err := parseGuardianPrivateKey(viper.GetString("GUARDIAN_PRIVATE_KEY"))
	if err != nil {
		logrus.Fatalf("Failed to parse guardian private key: %v", err)
	}

	AppConfig = Config{
		HTTPPort:           viper.GetString("HTTP_PORT"),
		BTCRPC:             viper.GetString("BTC_RPC"),
		BTCRPC_USER:        viper.GetString("BTC_RPC_USER"),
		BTCRPC_PASS:        viper.GetString("BTC_RPC_PASS"),
		BTCNetworkType:     viper.GetString("BTC_NETWORK_TYPE"),
		BTCPollInterval:    viper.GetDuration("BTC_POLL_INTERVAL"),
		DbDir:              viper.GetString("DB_DIR"),
		LogLevel:           logLevel,
		GuardianID:         viper.GetUint32("GUARDIAN_ID"),
		GuardianPubKeys:    guardianPks,
		GuardianPrivateKey: guardianSk,
		FeePartsPerMillion: viper.GetUint64("FEE_PPM"),
		DustLimit:          viper.GetUint64("DUST_LIMIT"),
		MinFeerate:         viper.GetUint64("MIN_FEERATE"),
		BroadcastInterval:  viper.GetDuration("BROADCAST_INTERVAL"),
	}

	if len(AppConfig.GuardianPubKeys) > 0 {
		if int(AppConfig.GuardianID) >= len(AppConfig.GuardianPubKeys) {
			logrus.Fatalf("Guardian id %d out of range for %d guardians", AppConfig.GuardianID, len(AppConfig.GuardianPubKeys))
		}

		own := AppConfig.GuardianPubKeys[AppConfig.GuardianID]
		if AppConfig.GuardianPrivateKey == nil || !own.IsEqual(AppConfig.GuardianPrivateKey.PubKey()) {
			logrus.Fatalf("Guardian private key does not match multisig pubkey for guardian %d", AppConfig.GuardianID)
		}
	}

	logrus.Infof("Init config, guardian %d of %d, network %q, broadcast interval %v",
		AppConfig.GuardianID, len(AppConfig.GuardianPubKeys), AppConfig.BTCNetworkType, AppConfig.BroadcastInterval)

	logrus.SetOutput(os.Stdout)
	logrus.SetLevel(AppConfig.LogLevel)
}

func parseGuardianPubKeys(raw string) ([]*btcec.PublicKey, error) {
	if raw == "" {
		return nil, nil
	}

	var pks []*btcec.PublicKey
	for _, part := range strings.Split(raw, ",") {
		b, err := hex.DecodeString(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}

		pk, err := btcec.ParsePubKey(b)
		if err != nil {
			return nil, err
		}

		pks = append(pks, pk)
	}

	return pks, nil
}

func parseGuardianPrivateKey(raw string) (*btcec.PrivateKey, error) {
	if raw == "" {
		return nil, nil
	}

	b, err := hex.DecodeString(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}

	sk, _ := btcec.PrivKeyFromBytes(b)
	return sk, nil
}

type Config struct {
	HTTPPort           string
	BTCRPC             string
	BTCRPC_USER        string
	BTCRPC_PASS        string
	BTCNetworkType     string
	BTCPollInterval    time.Duration
	DbDir              string
	LogLevel           logrus.Level
	GuardianID         uint32
	GuardianPubKeys    []*btcec.PublicKey
	GuardianPrivateKey *btcec.PrivateKey
	FeePartsPerMillion uint64
	DustLimit          uint64
	MinFeerate         uint64
	BroadcastInterval  time.Duration
}

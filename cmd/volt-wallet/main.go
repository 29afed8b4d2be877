// Command volt-wallet is the external-collaborator CLI for the Volt
// network: seed management and the balance/send/mint/issue-token/
// mint-token commands of §6.2, backed by internal/wallet's BIP39/BIP32
// derivation and a direct JSON-RPC connection to a node.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kindlyrobotics/voltnetwork/internal/smt"
	"github.com/kindlyrobotics/voltnetwork/internal/txapply"
	"github.com/kindlyrobotics/voltnetwork/internal/wallet"
)

// marshalHex renders a value as hex-encoded JSON, the wire shape
// p3p_issueToken/p3p_mintToken expect for their sys_msg_hex parameter.
func marshalHex(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func defaultWalletPath() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, ".volt", "wallet.dat")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: volt-wallet <command> [flags]")
		fmt.Fprintln(os.Stderr, "commands: init-seed, export-seed, balance, send, mint, issue-token, mint-token")
		os.Exit(1)
	}

	cmd := os.Args[1]
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	walletPath := fs.String("wallet", defaultWalletPath(), "path to the wallet file")
	configPath := fs.String("config", "", "path to the JSON config file")
	nodeOverride := fs.String("node", "", "node RPC address, overrides config")
	to := fs.String("to", "", "recipient address (hex)")
	amount := fs.String("amount", "", "amount, decimal string")
	tokenID := fs.Uint64("token-id", smt.NativeTokenID, "token id")
	metadata := fs.String("metadata", "", "token metadata")
	collateral := fs.String("collateral", "", "collateral amount, decimal string")
	fs.Parse(os.Args[2:])

	if err := run(cmd, *walletPath, *configPath, *nodeOverride, *to, *amount, *tokenID, *metadata, *collateral); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(cmd, walletPath, configPath, nodeOverride, to, amount string, tokenID uint64, metadata, collateral string) error {
	cfg := wallet.DefaultConfig()
	if configPath != "" {
		loaded, err := wallet.LoadConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if nodeOverride != "" {
		cfg.Node = nodeOverride
	}

	switch cmd {
	case "init-seed":
		return cmdInitSeed(walletPath)
	case "export-seed":
		return cmdExportSeed(walletPath)
	case "balance":
		return cmdBalance(cfg, walletPath, tokenID)
	case "send":
		return cmdSend(cfg, walletPath, to, tokenID, amount)
	case "mint":
		return cmdMint(cfg, walletPath, to, amount)
	case "issue-token":
		return cmdIssueToken(cfg, walletPath, metadata, collateral)
	case "mint-token":
		return cmdMintToken(cfg, walletPath, tokenID, to, amount)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func cmdInitSeed(walletPath string) error {
	if _, err := os.Stat(walletPath); err == nil {
		return fmt.Errorf("wallet already exists at %s", walletPath)
	}
	w, err := wallet.New()
	if err != nil {
		return err
	}
	if err := w.Save(walletPath); err != nil {
		return err
	}
	fmt.Println("Seed initialized:", walletPath)
	return nil
}

func cmdExportSeed(walletPath string) error {
	w, err := wallet.Load(walletPath)
	if err != nil {
		return err
	}
	fmt.Println("Seed:", w.Mnemonic)
	fmt.Println("WARNING: keep this seed safe and private!")
	return nil
}

func cmdBalance(cfg wallet.Config, walletPath string, tokenID uint64) error {
	w, err := wallet.Load(walletPath)
	if err != nil {
		return err
	}
	addr, err := w.Address()
	if err != nil {
		return err
	}
	client := wallet.NewNodeClient(cfg.Node)

	var result struct {
		Balance string `json:"balance"`
		Nonce   uint64 `json:"nonce"`
	}
	if err := client.Call(context.Background(), "getBalanceWithToken", []interface{}{addr.String(), tokenID}, &result); err != nil {
		return err
	}
	fmt.Println("Balance:", result.Balance)
	return nil
}

func cmdSend(cfg wallet.Config, walletPath, toHex string, tokenID uint64, amount string) error {
	if toHex == "" || amount == "" {
		return fmt.Errorf("send requires --to and --amount")
	}
	w, err := wallet.Load(walletPath)
	if err != nil {
		return err
	}
	from, err := w.Address()
	if err != nil {
		return err
	}
	to, err := smt.AddressFromHex(toHex)
	if err != nil {
		return err
	}
	bal, err := smt.BalanceFromString(amount)
	if err != nil {
		return err
	}

	client := wallet.NewNodeClient(cfg.Node)
	ctx := context.Background()

	var nonceResult struct {
		Balance string `json:"balance"`
		Nonce   uint64 `json:"nonce"`
	}
	if err := client.Call(ctx, "getBalanceWithToken", []interface{}{from.String(), tokenID}, &nonceResult); err != nil {
		return err
	}

	msg := smt.Message{Kind: smt.MessageTransfer, From: from, To: to, TokenID: tokenID, Amount: bal, Nonce: nonceResult.Nonce}
	sig, err := w.Sign(txapply.Preimage(msg))
	if err != nil {
		return err
	}

	var txHash string
	params := []interface{}{from.String(), to.String(), tokenID, bal.String(), nonceResult.Nonce, hex.EncodeToString(sig)}
	if err := client.Call(ctx, "send", params, &txHash); err != nil {
		return err
	}
	fmt.Println("Transaction sent:", txHash)
	return nil
}

func cmdMint(cfg wallet.Config, walletPath, toHex, amount string) error {
	if toHex == "" || amount == "" {
		return fmt.Errorf("mint requires --to and --amount")
	}
	w, err := wallet.Load(walletPath)
	if err != nil {
		return err
	}
	from, err := w.Address()
	if err != nil {
		return err
	}
	to, err := smt.AddressFromHex(toHex)
	if err != nil {
		return err
	}
	bal, err := smt.BalanceFromString(amount)
	if err != nil {
		return err
	}

	msg := smt.Message{Kind: smt.MessageMint, From: from, To: to, TokenID: smt.NativeTokenID, Amount: bal}
	sig, err := w.Sign(txapply.Preimage(msg))
	if err != nil {
		return err
	}

	client := wallet.NewNodeClient(cfg.Node)
	var txHash string
	params := []interface{}{from.String(), hex.EncodeToString(sig), to.String(), bal.String()}
	if err := client.Call(context.Background(), "mint", params, &txHash); err != nil {
		return err
	}
	fmt.Println("Tokens minted:", txHash)
	return nil
}

func cmdIssueToken(cfg wallet.Config, walletPath, metadata, collateral string) error {
	if metadata == "" {
		return fmt.Errorf("issue-token requires --metadata")
	}
	w, err := wallet.Load(walletPath)
	if err != nil {
		return err
	}
	issuer, err := w.Address()
	if err != nil {
		return err
	}

	client := wallet.NewNodeClient(cfg.Node)
	ctx := context.Background()
	var nonceResult struct {
		Balance string `json:"balance"`
		Nonce   uint64 `json:"nonce"`
	}
	if err := client.Call(ctx, "get_nonce", []interface{}{issuer.String()}, &nonceResult); err != nil {
		return err
	}

	msg := smt.Message{Kind: smt.MessageIssueToken, From: issuer, Metadata: metadata, Nonce: nonceResult.Nonce}
	if collateral != "" {
		ms, err := smt.BalanceFromString(collateral)
		if err != nil {
			return err
		}
		msg.MaxSupply = &ms
	}
	sig, err := w.Sign(txapply.Preimage(msg))
	if err != nil {
		return err
	}
	mj := txapply.ToMessageJSON(msg, sig)
	payload, err := marshalHex(mj)
	if err != nil {
		return err
	}

	var tokenID uint64
	if err := client.Call(ctx, "p3p_issueToken", []interface{}{payload}, &tokenID); err != nil {
		return err
	}
	fmt.Println("Token issued:", tokenID)
	return nil
}

func cmdMintToken(cfg wallet.Config, walletPath string, tokenID uint64, toHex, amount string) error {
	if toHex == "" || amount == "" {
		return fmt.Errorf("mint-token requires --to and --amount")
	}
	w, err := wallet.Load(walletPath)
	if err != nil {
		return err
	}
	issuer, err := w.Address()
	if err != nil {
		return err
	}
	to, err := smt.AddressFromHex(toHex)
	if err != nil {
		return err
	}
	bal, err := smt.BalanceFromString(amount)
	if err != nil {
		return err
	}

	client := wallet.NewNodeClient(cfg.Node)
	ctx := context.Background()
	var balResult struct {
		Balance string `json:"balance"`
		Nonce   uint64 `json:"nonce"`
	}
	if err := client.Call(ctx, "getBalanceWithToken", []interface{}{issuer.String(), tokenID}, &balResult); err != nil {
		return err
	}

	msg := smt.Message{Kind: smt.MessageMint, From: issuer, To: to, TokenID: tokenID, Amount: bal, Nonce: balResult.Nonce}
	sig, err := w.Sign(txapply.Preimage(msg))
	if err != nil {
		return err
	}
	mj := txapply.ToMessageJSON(msg, sig)
	payload, err := marshalHex(mj)
	if err != nil {
		return err
	}

	var txHash string
	if err := client.Call(ctx, "p3p_mintToken", []interface{}{payload}, &txHash); err != nil {
		return err
	}
	fmt.Println("Tokens minted:", txHash)
	return nil
}

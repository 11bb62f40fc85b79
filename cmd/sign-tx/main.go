// Command sign-tx builds an EIP-712 signed marketplace transaction and prints
// it as JSON, optionally submitting it to a running node.
//
//	sign-tx --key user1 --nonce 1 --type create_order --asset-id 1 --price 10
//	sign-tx --key user2 --nonce 1 --type approve_token --spender 0x...a4e7 --amount 10 --submit http://localhost:8080
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	flag "github.com/spf13/pflag"

	"github.com/uhyunpark/landmarket/params"
	"github.com/uhyunpark/landmarket/pkg/app/core/token"
	"github.com/uhyunpark/landmarket/pkg/app/core/transaction"
	"github.com/uhyunpark/landmarket/pkg/crypto"
)

var devnetKeys = map[string]string{
	"deployer": params.DevnetDeployerKey,
	"user1":    params.DevnetUser1Key,
	"user2":    params.DevnetUser2Key,
}

func main() {
	var (
		txType   = flag.StringP("type", "t", "", "transaction type")
		key      = flag.StringP("key", "k", "", "hex private key or devnet label (deployer, user1, user2)")
		nonce    = flag.Uint64P("nonce", "n", 0, "account nonce, must exceed the last used one")
		chainID  = flag.Int64("chain-id", 1337, "EIP-712 chain id")
		market   = flag.String("market", params.DefaultMarketAddress.Hex(), "marketplace address")
		raw      = flag.Bool("raw", false, "price and amount are base units instead of decimal token amounts")
		typed    = flag.Bool("typed-data", false, "print the EIP-712 typed data instead of the transaction")
		submit   = flag.String("submit", "", "node URL to POST the signed transaction to")
		genKey   = flag.Bool("gen-key", false, "generate a new key and exit")
		listOnly = flag.Bool("list-types", false, "list transaction types and exit")

		p transaction.Params
	)
	flag.StringVar(&p.OrderID, "order-id", "", "order id")
	flag.StringVar(&p.AssetID, "asset-id", "", "asset id")
	flag.StringVar(&p.Price, "price", "", "listing price")
	flag.StringVar(&p.FeePerThousand, "fee", "", "fee per thousand (0-999)")
	flag.StringVar(&p.Receiver, "receiver", "", "fee receiver address")
	flag.StringVar(&p.NewOwner, "new-owner", "", "new marketplace owner")
	flag.StringVar(&p.Spender, "spender", "", "approved spender")
	flag.StringVar(&p.Operator, "operator", "", "asset operator")
	flag.StringVar(&p.To, "to", "", "transfer recipient")
	flag.StringVar(&p.Amount, "amount", "", "token amount")
	flag.BoolVar(&p.Approved, "approved", false, "operator approval flag")
	flag.Parse()

	if *listOnly {
		for _, t := range transaction.Types() {
			fmt.Println(t)
		}
		return
	}
	if *genKey {
		s, err := crypto.GenerateKey()
		if err != nil {
			fatalf("generate key: %v", err)
		}
		fmt.Printf("address:     %s\n", s.Address().Hex())
		fmt.Printf("private key: %s\n", s.PrivateKeyHex())
		return
	}

	if *txType == "" || *key == "" || *nonce == 0 {
		flag.Usage()
		os.Exit(2)
	}
	if !common.IsHexAddress(*market) {
		fatalf("invalid market address %q", *market)
	}

	signer, err := loadSigner(*key)
	if err != nil {
		fatalf("key: %v", err)
	}

	if !*raw {
		if p.Price, err = toBaseUnits(p.Price); err != nil {
			fatalf("price: %v", err)
		}
		if p.Amount, err = toBaseUnits(p.Amount); err != nil {
			fatalf("amount: %v", err)
		}
	}

	domain := crypto.DefaultDomain()
	domain.ChainID = big.NewInt(*chainID)
	domain.VerifyingContract = common.HexToAddress(*market)
	verifier := transaction.NewVerifier(domain)

	tx := &transaction.SignedTransaction{
		Type:   transaction.TxType(*txType),
		Nonce:  fmt.Sprint(*nonce),
		Params: p,
	}
	if err := verifier.Sign(signer, tx); err != nil {
		fatalf("sign: %v", err)
	}
	if err := tx.Validate(); err != nil {
		fatalf("invalid transaction: %v", err)
	}

	if *typed {
		td, err := tx.TypedData(verifier.TypedSigner())
		if err != nil {
			fatalf("typed data: %v", err)
		}
		printJSON(td)
		return
	}
	printJSON(tx)

	if *submit != "" {
		if err := post(*submit, tx); err != nil {
			fatalf("submit: %v", err)
		}
	}
}

func loadSigner(key string) (*crypto.Signer, error) {
	if k, ok := devnetKeys[key]; ok {
		key = k
	}
	return crypto.FromPrivateKeyHex(strings.TrimPrefix(key, "0x"))
}

func toBaseUnits(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	v, err := token.ParseUnits(s, token.DefaultDecimals)
	if err != nil {
		return "", err
	}
	return v.String(), nil
}

func post(baseURL string, tx *transaction.SignedTransaction) error {
	body, err := tx.Serialize()
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(strings.TrimSuffix(baseURL, "/")+"/api/v1/tx", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "%s %s\n", resp.Status, bytes.TrimSpace(out))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("node rejected transaction")
	}
	return nil
}

func printJSON(v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fatalf("marshal: %v", err)
	}
	fmt.Println(string(out))
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

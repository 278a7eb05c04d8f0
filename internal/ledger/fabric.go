package ledger

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/hyperledger/fabric-gateway/pkg/client"
	"github.com/hyperledger/fabric-gateway/pkg/identity"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"region-latency/internal/core"
)

// Mode selects which kind of round trip the ledger probe performs.
type Mode string

const (
	// ModeEvaluate runs a query on one peer. No block, no consensus.
	ModeEvaluate Mode = "evaluate"
	// ModeSubmit endorses, submits and waits for the commit status.
	ModeSubmit Mode = "submit"
)

type Config struct {
	MSPID        string
	CryptoPath   string
	PeerEndpoint string
	GatewayPeer  string
	Channel      string
	Chaincode    string
	Function     string
	Args         []string
	Mode         Mode
}

func (c Config) validate() error {
	switch {
	case c.MSPID == "":
		return errors.New("fabric: msp id is required")
	case c.CryptoPath == "":
		return errors.New("fabric: crypto path is required")
	case c.PeerEndpoint == "":
		return errors.New("fabric: peer endpoint is required")
	case c.Channel == "" || c.Chaincode == "" || c.Function == "":
		return errors.New("fabric: channel, chaincode and function are required")
	}
	switch c.Mode {
	case ModeEvaluate, ModeSubmit:
		return nil
	default:
		return fmt.Errorf("fabric: unknown mode %q", c.Mode)
	}
}

// FabricInvoker times chaincode transactions through a Fabric gateway.
type FabricInvoker struct {
	clientConnection *grpc.ClientConn
	gateway          *client.Gateway
	contract         *client.Contract
	function         string
	args             []string
	mode             Mode
}

// NewFabricInvoker connects to the gateway peer described by cfg.
func NewFabricInvoker(cfg Config) (*FabricInvoker, error) {
	if cfg.Mode == "" {
		cfg.Mode = ModeEvaluate
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(cfg.CryptoPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("crypto path does not exist: %s", cfg.CryptoPath)
	}

	certPath := path.Join(cfg.CryptoPath, "users/User1@org1.example.com/msp/signcerts/cert.pem")
	keyDir := path.Join(cfg.CryptoPath, "users/User1@org1.example.com/msp/keystore")
	tlsCertPath := path.Join(cfg.CryptoPath, "peers/peer0.org1.example.com/tls/ca.crt")

	cert, err := loadCertificate(certPath)
	if err != nil {
		return nil, err
	}
	key, err := loadPrivateKey(keyDir)
	if err != nil {
		return nil, err
	}

	id, err := identity.NewX509Identity(cfg.MSPID, cert)
	if err != nil {
		return nil, fmt.Errorf("failed to create identity: %w", err)
	}
	sign, err := identity.NewPrivateKeySign(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create signer: %w", err)
	}

	transportCreds, err := credentials.NewClientTLSFromFile(tlsCertPath, cfg.GatewayPeer)
	if err != nil {
		return nil, err
	}
	conn, err := grpc.NewClient(cfg.PeerEndpoint, grpc.WithTransportCredentials(transportCreds))
	if err != nil {
		return nil, err
	}

	gateway, err := client.Connect(
		id,
		client.WithSign(sign),
		client.WithClientConnection(conn),
		client.WithEvaluateTimeout(5*time.Second),
		client.WithEndorseTimeout(15*time.Second),
		client.WithSubmitTimeout(5*time.Second),
		client.WithCommitStatusTimeout(1*time.Minute),
	)
	if err != nil {
		conn.Close()
		return nil, err
	}

	network := gateway.GetNetwork(cfg.Channel)
	return &FabricInvoker{
		clientConnection: conn,
		gateway:          gateway,
		contract:         network.GetContract(cfg.Chaincode),
		function:         cfg.Function,
		args:             cfg.Args,
		mode:             cfg.Mode,
	}, nil
}

func (f *FabricInvoker) Invoke(ctx context.Context) (core.Response, error) {
	if f.mode == ModeSubmit {
		return f.submit(ctx)
	}
	result, err := f.contract.EvaluateWithContext(ctx, f.function, client.WithArguments(f.args...))
	if err != nil {
		return core.Response{}, fmt.Errorf("failed to evaluate %s: %w", f.function, err)
	}
	return core.Response{Bytes: int64(len(result))}, nil
}

// submit waits for the peer to confirm the block, so it includes commit latency.
func (f *FabricInvoker) submit(ctx context.Context) (core.Response, error) {
	proposal, err := f.contract.NewProposal(f.function, client.WithArguments(f.args...))
	if err != nil {
		return core.Response{}, fmt.Errorf("failed to create proposal: %w", err)
	}
	transaction, err := proposal.EndorseWithContext(ctx)
	if err != nil {
		return core.Response{}, fmt.Errorf("failed to endorse: %w", err)
	}
	commit, err := transaction.SubmitWithContext(ctx)
	if err != nil {
		return core.Response{}, fmt.Errorf("failed to submit: %w", err)
	}
	status, err := commit.StatusWithContext(ctx)
	if err != nil {
		return core.Response{}, fmt.Errorf("failed to get commit status: %w", err)
	}
	if !status.Successful {
		return core.Response{}, fmt.Errorf("transaction %s failed with status code: %d", transaction.TransactionID(), status.Code)
	}
	return core.Response{Status: int(status.Code), Bytes: int64(len(transaction.Result()))}, nil
}

func (f *FabricInvoker) Close() {
	f.gateway.Close()
	f.clientConnection.Close()
}

func loadCertificate(filename string) (*x509.Certificate, error) {
	certificatePEM, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate file: %w", err)
	}
	return identity.CertificateFromPEM(certificatePEM)
}

func loadPrivateKey(dir string) (interface{}, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read key directory: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no private key in %s", dir)
	}
	privateKeyPEM, err := os.ReadFile(path.Join(dir, files[0].Name()))
	if err != nil {
		return nil, fmt.Errorf("failed to read private key file: %w", err)
	}
	return identity.PrivateKeyFromPEM(privateKeyPEM)
}

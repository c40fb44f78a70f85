package main

import (
	"github.com/fpang/media-publisher/internal/gateway"
	"github.com/fpang/media-publisher/internal/lambdaboot"
	"github.com/fpang/media-publisher/internal/lifecycle"
	"github.com/fpang/media-publisher/internal/store"
)

// deps holds the clients a command needs. Built per command so that
// listing jobs does not require bucket configuration.
type deps struct {
	ledger      *store.DynamoLedger
	lifecycle   *lifecycle.Service
	grants      *gateway.Gateway
	masterToken string
}

func ledgerDeps() *deps {
	awsClients := lambdaboot.InitAWS()
	ledger := lambdaboot.InitLedger(awsClients.Config)
	master := lambdaboot.LoadSecret(awsClients.SSM, lambdaboot.EnvAPIToken, lambdaboot.EnvAPITokenParam, lambdaboot.DefaultAPITokenParam)
	return &deps{
		ledger:      ledger,
		lifecycle:   lifecycle.New(ledger, nil, lifecycle.Config{MasterToken: master}),
		masterToken: master,
	}
}

func storageDeps() *deps {
	awsClients := lambdaboot.InitAWS()
	s3s := lambdaboot.InitS3(awsClients.Config)
	ledger := lambdaboot.InitLedger(awsClients.Config)
	return &deps{
		ledger: ledger,
		lifecycle: lifecycle.New(ledger, s3s.Store, lifecycle.Config{
			InBucket:  s3s.InBucket,
			OutBucket: s3s.OutBucket,
		}),
		grants: gateway.New(gateway.Config{
			InBucket:  s3s.InBucket,
			OutBucket: s3s.OutBucket,
			GetTTL:    lambdaboot.EnvInt("GET_EXPIRES", gateway.MaxTTL),
		}, s3s.Presigner, ledger, nil, nil),
	}
}

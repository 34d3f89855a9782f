package main

import (
	"fmt"
	"os"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"rewardledger/cmd/internal/simulation"
)

type benchParquetRow struct {
	Recipients       int64  `parquet:"name=recipients, type=INT64"`
	CostLimit        int64  `parquet:"name=cost_limit, type=INT64"`
	PushDistribute   int64  `parquet:"name=push_distribute_cost, type=INT64"`
	PushSucceeded    bool   `parquet:"name=push_succeeded, type=BOOLEAN"`
	PushErrorCode    string `parquet:"name=push_error_code, type=BYTE_ARRAY, convertedtype=UTF8"`
	PullRegistration int64  `parquet:"name=pull_registration_cost, type=INT64"`
	PullWithdraw     int64  `parquet:"name=pull_withdraw_cost, type=INT64"`
}

func writeBenchParquet(path string, rows []simulation.BenchRow) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("bench: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(benchParquetRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("bench: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		pr := &benchParquetRow{
			Recipients:       int64(row.Recipients),
			CostLimit:        int64(row.CostLimit),
			PushDistribute:   int64(row.PushDistribute),
			PushSucceeded:    row.PushSucceeded,
			PushErrorCode:    row.PushErrorCode,
			PullRegistration: int64(row.PullRegistration),
			PullWithdraw:     int64(row.PullWithdraw),
		}
		if err := pw.Write(pr); err != nil {
			file.Close()
			return fmt.Errorf("bench: write parquet row: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("bench: finalize parquet: %w", err)
	}
	return file.Close()
}

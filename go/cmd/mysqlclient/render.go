/*
Copyright 2024 The MySQLClient Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"fmt"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"mysqlclient.io/mysqlclient/go/log"
	"mysqlclient.io/mysqlclient/go/sqltypes"
)

// renderResult prints one result set the way the stock mysql client
// does: a table for row-returning statements, an affected-rows line
// for everything else.
func renderResult(w io.Writer, result *sqltypes.Result, elapsed time.Duration) {
	if len(result.Fields) == 0 {
		fmt.Fprintf(w, "Query OK, %d rows affected (%.2f sec)\n", result.RowsAffected, elapsed.Seconds())
		if result.InsertID != 0 {
			fmt.Fprintf(w, "Last insert id: %d\n", result.InsertID)
		}
		return
	}

	table := tablewriter.NewTable(w, tablewriter.WithHeaderAutoFormat(tw.Off))
	table.Header(result.FieldNames())
	for _, row := range result.Rows {
		cells := make([]string, len(row))
		for i, value := range row {
			if value.IsNull() {
				cells[i] = "NULL"
			} else {
				cells[i] = value.ToString()
			}
		}
		if err := table.Append(cells); err != nil {
			log.Errorf("appending row: %v", err)
		}
	}
	if err := table.Render(); err != nil {
		log.Errorf("rendering result: %v", err)
	}

	plural := "s"
	if len(result.Rows) == 1 {
		plural = ""
	}
	fmt.Fprintf(w, "%d row%s in set (%.2f sec)\n", len(result.Rows), plural, elapsed.Seconds())
	if result.Warnings > 0 {
		fmt.Fprintf(w, "%d warning(s)\n", result.Warnings)
	}
}

// Package export provides backup and restore of archived readings, plus
// experiment summary reports.
//
// # Supported Formats
//
// JSON Format:
//   - Preserves every reading with its run, identifier, time and value
//   - Missing values (NaN) are written as null
//   - Includes export metadata (timestamp, runs, reading count)
//   - Can be re-imported
//
// CSV Format:
//   - Flattened representation suitable for spreadsheets
//   - One column per descriptor key present in the data
//   - Missing values are written as "nan", like titer sheets
//   - Cannot be re-imported (export-only)
//
// Summary CSV:
//   - One row per replicate trial and analyte, written with gocsv
//
// # HTTP API
//
// Export endpoint: GET /v1/export
//
//	curl "http://localhost:8080/v1/export?format=csv&analyte_type=biomass&descriptor=strain:MG1655" \
//	  -o od.csv
//
// Import endpoint: POST /v1/import
//
//	curl -X POST -H "Content-Type: application/json" \
//	  --data-binary @backup.json http://localhost:8080/v1/import
//
// Imported readings keep their run names. Readings that fail validation
// (unknown analyte type, empty analyte name, non-finite time) are skipped and
// listed in the response.
package export

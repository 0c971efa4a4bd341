package storage

import (
	_ "embed"
)

//go:embed schema.sql
var initSchemaSQL string

// Indexes are created on close, after the bulk of the inserts, so they
// never slow the sweep down while it is writing.
const initIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_records_session ON sweep_records (session_id);
CREATE INDEX IF NOT EXISTS idx_measurements_record ON measurements (record_id);
CREATE INDEX IF NOT EXISTS idx_et_results_record ON et_results (record_id);
`

const (
	insertSessionSQL = `
INSERT INTO sessions (created_at,
                      comment,
                      config,
                      generator_id,
                      analyzer_id,
                      sensor_id)
VALUES (CURRENT_TIMESTAMP, ?, ?, ?, ?, ?)`

	selectSessionSQL = `
SELECT id,
       created_at,
       comment,
       config,
       generator_id,
       analyzer_id,
       sensor_id
FROM sessions
WHERE id = ?`

	selectSessionsSQL = `
SELECT id,
       created_at,
       comment,
       config,
       generator_id,
       analyzer_id,
       sensor_id
FROM sessions
ORDER BY created_at, id`

	selectLatestSessionSQL = `
SELECT id,
       created_at,
       comment,
       config,
       generator_id,
       analyzer_id,
       sensor_id
FROM sessions
ORDER BY id DESC
LIMIT 1`

	insertRecordSQL = `
INSERT INTO sweep_records (session_id,
                           frequency_hz,
                           freq_ghz,
                           vsg_offset,
                           vsa_offset,
                           input_offset,
                           output_offset,
                           setup_time_us,
                           total_time_us,
                           comment)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	insertMeasurementSQL = `
INSERT INTO measurements (record_id,
                          mode,
                          output_power_dbm,
                          evm_db,
                          channel_power_dbm,
                          aclr_lower_db,
                          aclr_upper_db,
                          input_power_dbm,
                          servo_ext_iterations,
                          servo_int_iterations,
                          servo_converged,
                          servo_settle_us,
                          timings)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	insertETResultSQL = `
INSERT INTO et_results (record_id,
                        mode,
                        delays,
                        evms,
                        total_us)
VALUES (?, ?, ?, ?, ?)`

	selectRecordsSQL = `
SELECT id,
       frequency_hz,
       freq_ghz,
       vsg_offset,
       vsa_offset,
       input_offset,
       output_offset,
       setup_time_us,
       total_time_us,
       comment
FROM sweep_records
WHERE session_id = ?
  AND frequency_hz BETWEEN ? AND ?
ORDER BY frequency_hz, id`

	selectMeasurementsSQL = `
SELECT mode,
       output_power_dbm,
       evm_db,
       channel_power_dbm,
       aclr_lower_db,
       aclr_upper_db,
       input_power_dbm,
       servo_ext_iterations,
       servo_int_iterations,
       servo_converged,
       servo_settle_us,
       timings
FROM measurements
WHERE record_id = ?
ORDER BY id`

	selectETResultsSQL = `
SELECT mode,
       delays,
       evms,
       total_us
FROM et_results
WHERE record_id = ?
ORDER BY id`
)

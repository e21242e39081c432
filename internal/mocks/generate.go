package mocks

//go:generate mockery --name Provider --srcpkg github.com/aevon-lab/orderlens/internal/fetch --output ./fetch --outpkg fetchmocks --with-expecter
